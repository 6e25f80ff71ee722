package deadline

import (
	"fmt"
	"time"
)

// TimezoneConversionError reports that an instant could not be expressed in
// the requested zone. It is recoverable: the accompanying value is the UTC
// rendering of Instant.
type TimezoneConversionError struct {
	Zone    string
	Instant time.Time
	Err     error
}

func (e *TimezoneConversionError) Error() string {
	return fmt.Sprintf("converting %s to time zone %q: %v", e.Instant.UTC().Format(time.RFC3339), e.Zone, e.Err)
}

func (e *TimezoneConversionError) Unwrap() error {
	return e.Err
}
