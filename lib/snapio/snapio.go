/*package snapio reads and writes the snapshot files ddgrav can start a run
from. Only Gadget-2 files (SnapFormat = 1) are supported for now.
*/
package snapio

// Header is an abstraction over the the header data of various snapshot
// formats.
type Header interface {
	// ToBytes converts the Header to the bytes it's stored as on disk.
	ToBytes() []byte
	// BoxSize returns the width of the simulation volume.
	BoxSize() float64
}
