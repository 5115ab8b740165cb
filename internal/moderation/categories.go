package moderation

// Category is the closed set of semantic buckets raw classifier labels are
// mapped into. Unmapped labels carry no opinion and are dropped.
type Category string

const (
	CategoryNudity   Category = "nudity"
	CategoryViolence Category = "violence"
	CategoryDrugs    Category = "drugs"
	CategoryHate     Category = "hate"
	CategoryUnsafe   Category = "unsafe"
	CategoryText     Category = "text"
)

// labelCategories maps the detection provider's moderation label names to
// our categories. Names follow the Rekognition moderation taxonomy.
var labelCategories = map[string]Category{
	"Explicit Nudity":              CategoryNudity,
	"Nudity":                       CategoryNudity,
	"Sexual Activity":              CategoryNudity,
	"Partial Nudity":               CategoryNudity,
	"Graphic Male Nudity":          CategoryNudity,
	"Graphic Female Nudity":        CategoryNudity,
	"Suggestive":                   CategoryUnsafe,
	"Female Swimwear Or Underwear": CategoryUnsafe,
	"Male Swimwear Or Underwear":   CategoryUnsafe,
	"Revealing Clothes":            CategoryUnsafe,

	"Violence":                 CategoryViolence,
	"Graphic Violence Or Gore": CategoryViolence,
	"Physical Violence":        CategoryViolence,
	"Weapon Violence":          CategoryViolence,
	"Weapons":                  CategoryViolence,
	"Self Injury":              CategoryViolence,

	"Drugs":              CategoryDrugs,
	"Drug Products":      CategoryDrugs,
	"Drug Use":           CategoryDrugs,
	"Drug Paraphernalia": CategoryDrugs,
	"Pills":              CategoryDrugs,

	"Hate Symbols":    CategoryHate,
	"Nazi Party":      CategoryHate,
	"White Supremacy": CategoryHate,
	"Extremist":       CategoryHate,

	"Rude Gestures": CategoryUnsafe,
	"Middle Finger": CategoryUnsafe,
	"Gambling":      CategoryUnsafe,
	"Alcohol":       CategoryUnsafe,
	"Tobacco":       CategoryUnsafe,

	"Text":          CategoryText,
	"Embedded Text": CategoryText,
}

// zeroToleranceLabels force a non-approve verdict once detected, no matter
// how the confidence threshold is tuned. Confidence gates reporting
// upstream, never this rule.
var zeroToleranceLabels = map[string]struct{}{
	"Explicit Nudity":          {},
	"Sexual Activity":          {},
	"Graphic Violence Or Gore": {},
	"Weapon Violence":          {},
	"Drugs":                    {},
	"Hate Symbols":             {},
}

// CategoryFor returns the category for a raw label name, if one is mapped.
func CategoryFor(name string) (Category, bool) {
	c, ok := labelCategories[name]
	return c, ok
}

// IsZeroTolerance reports whether a raw label name is in the zero-tolerance set.
func IsZeroTolerance(name string) bool {
	_, ok := zeroToleranceLabels[name]
	return ok
}
