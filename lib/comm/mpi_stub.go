//go:build !mpi
// +build !mpi

package comm

import (
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// NewMPI returns an error. Build with -tags mpi to use the MPI backend.
func NewMPI() (Communicator, error) {
	return nil, ddgerr.ConfigErrorf("The mpi backend was requested, but " +
		"ddgrav was compiled without MPI support. Rebuild with '-tags mpi' " +
		"or use the 'local' or 'tcp' backend.")
}
