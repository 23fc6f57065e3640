package evidence

// Grade is the evidence grade, A strongest to D weakest
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// Rank orders grades so that a stronger grade has a larger rank
func (g Grade) Rank() int {
	switch g {
	case GradeA:
		return 4
	case GradeB:
		return 3
	case GradeC:
		return 2
	case GradeD:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether g is as strong as other
func (g Grade) AtLeast(other Grade) bool {
	return g.Rank() >= other.Rank()
}

type threshold struct {
	grade      Grade
	confidence float64
	sampleSize int
	coverage   float64
}

// Rows are checked strongest first; every threshold is non-decreasing going
// up the table so the grade is monotone in each input.
var gradeTable = []threshold{
	{GradeA, 0.8, 30, 0.7},
	{GradeB, 0.6, 14, 0.5},
	{GradeC, 0.4, 7, 0.3},
}

// GradeFor maps (confidence, sample size, coverage) to a grade
func GradeFor(confidence float64, sampleSize int, coverage float64) Grade {
	for _, row := range gradeTable {
		if confidence >= row.confidence && sampleSize >= row.sampleSize && coverage >= row.coverage {
			return row.grade
		}
	}
	return GradeD
}

// Graded is anything carrying the three evidence inputs
type Graded interface {
	EvidenceInputs() (confidence float64, sampleSize int, coverage float64)
}

// GradeItem grades any Graded value
func GradeItem(item Graded) Grade {
	c, n, cov := item.EvidenceInputs()
	return GradeFor(c, n, cov)
}
