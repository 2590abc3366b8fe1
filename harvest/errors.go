package harvest

import "errors"

// ErrRunInProgress is returned when a stage is triggered while another
// stage or run holds the pipeline.
var ErrRunInProgress = errors.New("harvest: a pipeline run is already in progress")

// ErrInvalidFacet is returned for a facet index outside the query space.
var ErrInvalidFacet = errors.New("harvest: invalid facet index")

// ErrInvalidInput is returned when request input fails validation.
var ErrInvalidInput = errors.New("harvest: invalid input")

// ErrNotFound is returned when a catalog record does not exist.
var ErrNotFound = errors.New("harvest: not found")
