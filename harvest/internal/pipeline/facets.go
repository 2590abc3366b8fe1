package pipeline

// Facet is one cell of the discovery query space.
type Facet struct {
	Index    int    `json:"index"`
	Language string `json:"language"`
	License  string `json:"license"`
}

var (
	DefaultLanguages = []string{"typescript", "javascript", "python", "go", "rust", "java", "csharp", "kotlin", "ruby", "php"}
	DefaultLicenses  = []string{"mit", "apache-2.0", "gpl-3.0", "bsd-3-clause", "mpl-2.0", "unlicense"}
)

// Facets is the language x license cross product, language-major, indexed
// from 0.
func Facets(languages, licenses []string) []Facet {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	if len(licenses) == 0 {
		licenses = DefaultLicenses
	}
	out := make([]Facet, 0, len(languages)*len(licenses))
	for _, lang := range languages {
		for _, lic := range licenses {
			out = append(out, Facet{Index: len(out), Language: lang, License: lic})
		}
	}
	return out
}
