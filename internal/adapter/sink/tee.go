package sink

import "github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"

// Submitter accepts results and comparisons without blocking
type Submitter interface {
	SubmitResult(r *entity.ScanResult) bool
	SubmitShadow(rec *entity.ShadowComparisonRecord) bool
}

// Tee forwards everything to the primary and to each observer. Only the
// primary's answer is reported; observers may drop freely.
type Tee struct {
	primary   Submitter
	observers []Submitter
}

// NewTee returns a Tee over primary and observers
func NewTee(primary Submitter, observers ...Submitter) *Tee {
	return &Tee{primary: primary, observers: observers}
}

func (t *Tee) SubmitResult(r *entity.ScanResult) bool {
	for _, o := range t.observers {
		o.SubmitResult(r)
	}
	return t.primary.SubmitResult(r)
}

func (t *Tee) SubmitShadow(rec *entity.ShadowComparisonRecord) bool {
	for _, o := range t.observers {
		o.SubmitShadow(rec)
	}
	return t.primary.SubmitShadow(rec)
}
