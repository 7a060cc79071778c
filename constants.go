package ikesa

import "github.com/behrlich/go-ikesa/internal/constants"

// Re-exported sizing defaults. Kept here, rather than forcing callers to
// import internal/constants directly, the same way the table's own sizing
// logic is internal but its defaults are part of the public surface.
const (
	DefaultTableSize    = constants.DefaultTableSize
	DefaultSegmentCount = constants.DefaultSegmentCount
	MaxTableSize        = constants.MaxTableSize
)
