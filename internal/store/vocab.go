package store

import (
	"strings"

	"golang.org/x/text/cases"
)

// scienceFields is the closed vocabulary for a group's field of science,
// in canonical capitalization.
var scienceFields = []string{
	"Accelerator Physics",
	"Agronomy",
	"Applied Mathematics",
	"Astronomy",
	"Astrophysics",
	"Biochemistry",
	"Bioinformatics",
	"Biology",
	"Biophysics",
	"Cellular Biology",
	"Chemical Engineering",
	"Chemistry",
	"Civil Engineering",
	"Community Grid",
	"Computational Biology",
	"Computer Science",
	"Condensed Matter Physics",
	"Earth Sciences",
	"Ecology",
	"Economics",
	"Education",
	"Engineering",
	"Evolutionary Biology",
	"Finance",
	"Genetics",
	"Genomics",
	"Geographic Information Science",
	"Geology",
	"Gravitational Physics",
	"High Energy Physics",
	"Information Science",
	"Linguistics",
	"Logic",
	"Materials Science",
	"Mathematics",
	"Medicine",
	"Microbiology",
	"Molecular Biology",
	"Multidisciplinary",
	"Nanotechnology",
	"Network Science",
	"Neuroscience",
	"Nuclear Physics",
	"Nutritional Science",
	"Oceanography",
	"Particle Physics",
	"Pathology",
	"Pharmacology",
	"Physics",
	"Physiology",
	"Plant Biology",
	"Psychology",
	"Sociology",
	"Statistics",
	"Structural Biology",
	"Technology",
	"Zoology",
}

var scienceFieldIndex = buildScienceFieldIndex()

func buildScienceFieldIndex() map[string]string {
	fold := cases.Fold()
	idx := make(map[string]string, len(scienceFields))
	for _, f := range scienceFields {
		idx[fold.String(f)] = f
	}
	return idx
}

// NormalizeScienceField maps any capitalization of a vocabulary entry to its
// canonical form. The second return is false for fields outside the
// vocabulary.
func NormalizeScienceField(field string) (string, bool) {
	canonical, ok := scienceFieldIndex[cases.Fold().String(strings.TrimSpace(field))]
	return canonical, ok
}

// ScienceFields returns the vocabulary in canonical form, for listings and
// error messages. The returned slice is shared; callers must not modify it.
func ScienceFields() []string {
	return scienceFields
}
