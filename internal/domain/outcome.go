package domain

import "fmt"

// OutcomeStatus tags the result of reconciling a single record.
type OutcomeStatus string

const (
	Inserted OutcomeStatus = "inserted"
	Updated  OutcomeStatus = "updated"
	Skipped  OutcomeStatus = "skipped"
	Failed   OutcomeStatus = "failed"
)

type Outcome struct {
	Status OutcomeStatus
	Reason string // set for Skipped
	Err    error  // set for Failed
}

func OK(s OutcomeStatus) Outcome  { return Outcome{Status: s} }
func Skip(reason string) Outcome  { return Outcome{Status: Skipped, Reason: reason} }
func Fail(err error) Outcome      { return Outcome{Status: Failed, Err: err} }
func (o Outcome) Succeeded() bool { return o.Status == Inserted || o.Status == Updated }

// Summary aggregates outcomes of one batch.
type Summary struct {
	Total    int      `json:"total"`
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   int      `json:"errors"`
	Failures []string `json:"failures,omitempty"`
}

// maxFailures bounds the failure messages kept on a summary.
const maxFailures = 20

func (s *Summary) Add(o Outcome) {
	s.Total++
	switch o.Status {
	case Inserted:
		s.Inserted++
	case Updated:
		s.Updated++
	case Skipped:
		s.Skipped++
	case Failed:
		s.Errors++
		if len(s.Failures) < maxFailures && o.Err != nil {
			s.Failures = append(s.Failures, o.Err.Error())
		}
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%d total, %d new, %d updated, %d skipped, %d errors",
		s.Total, s.Inserted, s.Updated, s.Skipped, s.Errors)
}
