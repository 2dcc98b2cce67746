package lopq

import "fmt"

// ModelShapeError reports a load-time inconsistency between a model
// blob's declared shape fields and the invariants Model requires
// (mismatched K per subquantizer, wrong split counts, a dimension that
// doesn't divide evenly across splits). Load errors are fatal for that
// Model instance; there is no partial load.
type ModelShapeError struct {
	Component string
	Operation string
	Message   string
	Cause     error
}

func (e *ModelShapeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("lopq: model shape error in %s.%s: %s: %v", e.Component, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("lopq: model shape error in %s.%s: %s", e.Component, e.Operation, e.Message)
}

func (e *ModelShapeError) Unwrap() error { return e.Cause }

// InvalidArgumentError reports a caller-supplied value outside the
// contract of the operation it was passed to — an out-of-range coarse
// code given to SearchIn.
type InvalidArgumentError struct {
	Component string
	Operation string
	Message   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("lopq: invalid argument in %s.%s: %s", e.Component, e.Operation, e.Message)
}

// CellFetchError wraps a failure returned by the cell-fetch collaborator.
// It is propagated to the caller verbatim, never retried inside the core.
type CellFetchError struct {
	Component string
	Operation string
	Coarse    CoarseCode
	Cause     error
}

func (e *CellFetchError) Error() string {
	return fmt.Sprintf("lopq: cell fetch error in %s.%s for coarse code %v: %v", e.Component, e.Operation, e.Coarse, e.Cause)
}

func (e *CellFetchError) Unwrap() error { return e.Cause }

// DataCorruptionError reports a cell entry whose FineCode references a
// subquantizer centroid index outside [0, K_fine) for the model it is
// being scored against.
type DataCorruptionError struct {
	Component string
	Operation string
	Message   string
}

func (e *DataCorruptionError) Error() string {
	return fmt.Sprintf("lopq: data corruption in %s.%s: %s", e.Component, e.Operation, e.Message)
}
