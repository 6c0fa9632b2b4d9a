//go:build mpi
// +build mpi

package comm

// This header is almost the same as the one used by
// github.com/marcusthierfelder/mpi with some minor changes as well as a
// changes to the way that compilation is done. I'd import this package like
// normal, but these changes impact the underlying type system and compilation
// instructions, so that's not possible. As such, here is his license:
//
// Copyright (c) 2017 Marcus Thierfelder
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// NOTE: Use
// $ mpicc --showme:compile
// $ mpicc --showme:link
// To figure out CFLAGS and LDFLAGS, respectively

/*
#cgo LDFLAGS: -pthread -L/usr/lib/x86_64-linux-gnu/openmpi/lib -lmpi
#cgo CFLAGS: -std=gnu99 -Wall -I/usr/lib/x86_64-linux-gnu/openmpi/include/openmpi -I/usr/lib/x86_64-linux-gnu/openmpi/include -pthread
#include <mpi.h>
#include <stdlib.h>

MPI_Comm get_MPI_COMM_WORLD() {
    return (MPI_Comm)(MPI_COMM_WORLD);
}

MPI_Datatype get_MPI_Datatype(int i) {
    switch(i) {
    case 0: return (MPI_Datatype)MPI_INT;
    case 1: return (MPI_Datatype)MPI_LONG_LONG;
    case 2: return (MPI_Datatype)MPI_BYTE;
    case 3: return (MPI_Datatype)MPI_DOUBLE;
    }
    return NULL;
}

MPI_Op get_MPI_Op(int i) {
    switch(i) {
    case 0: return (MPI_Op)MPI_SUM;
    case 1: return (MPI_Op)MPI_MAX;
    case 2: return (MPI_Op)MPI_MIN;
    }
    return NULL;
}
*/
import "C"

import (
	"context"
	"sync"
	"unsafe"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

var (
	COMM_WORLD C.MPI_Comm = C.get_MPI_COMM_WORLD()

	INT32   C.MPI_Datatype = C.get_MPI_Datatype(0)
	INT64   C.MPI_Datatype = C.get_MPI_Datatype(1)
	BYTE    C.MPI_Datatype = C.get_MPI_Datatype(2)
	FLOAT64 C.MPI_Datatype = C.get_MPI_Datatype(3)

	mpiInitOnce sync.Once
	mpiInitErr  error
)

// mpiTags maps internal tags onto MPI message tags.
var mpiTags = [numTags]C.int{
	tagUser: 1, tagCollective: 2, tagExchange: 3,
}

// MPIComm is a Communicator backed by MPI_COMM_WORLD. MPI calls ignore
// context cancellation: a stalled rank stalls the run, which the MPI launcher
// is responsible for tearing down.
type MPIComm struct {
	rank, size int
	mu         sync.Mutex
	closed     bool
}

var (
	_ Communicator = &MPIComm{}
	_ AllToAller   = &MPIComm{}
)

// NewMPI initializes MPI (once per process) and returns a communicator over
// every process the launcher started.
func NewMPI() (Communicator, error) {
	mpiInitOnce.Do(func() {
		mpiInitErr = processError(C.MPI_Init(nil, nil))
	})
	if mpiInitErr != nil {
		return nil, mpiInitErr
	}

	size, rank := C.int(-1), C.int(-1)
	if err := processError(C.MPI_Comm_size(COMM_WORLD, &size)); err != nil {
		return nil, err
	}
	if err := processError(C.MPI_Comm_rank(COMM_WORLD, &rank)); err != nil {
		return nil, err
	}
	return &MPIComm{rank: int(rank), size: int(size)}, nil
}

// processError turns an MPI error code into a Transport error.
func processError(err C.int) error {
	if err == 0 {
		return nil
	}

	buf := make([]C.char, C.MPI_MAX_ERROR_STRING)
	n := C.int(0)
	C.MPI_Error_string(err, &buf[0], &n)
	return ddgerr.TransportErrorf("MPI error: %s", C.GoString(&buf[0]))
}

// ptr returns a pointer to the first element of b. Converting between Go and
// C pointers is way easier if empty buffers get a dummy element. It doesn't
// have any impact on correctness since that element is never read.
func ptr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		b = []byte{0}
	}
	return unsafe.Pointer(&b[0])
}

func (c *MPIComm) Rank() int { return c.rank }
func (c *MPIComm) Size() int { return c.size }

func (c *MPIComm) check(rank int) error {
	if c.closed {
		return ddgerr.TransportErrorf("Rank %d used after Close.", c.rank)
	}
	return checkRank(rank, c.size)
}

func (c *MPIComm) send(rank int, t tag, payload []byte) error {
	if err := c.check(rank); err != nil {
		return err
	}
	return processError(C.MPI_Send(ptr(payload), C.int(len(payload)), BYTE,
		C.int(rank), mpiTags[t], COMM_WORLD))
}

func (c *MPIComm) recv(rank int, t tag) ([]byte, error) {
	if err := c.check(rank); err != nil {
		return nil, err
	}

	var status C.MPI_Status
	err := C.MPI_Probe(C.int(rank), mpiTags[t], COMM_WORLD, &status)
	if err := processError(err); err != nil {
		return nil, err
	}
	n := C.int(0)
	if err := processError(C.MPI_Get_count(&status, BYTE, &n)); err != nil {
		return nil, err
	}

	buf := make([]byte, int(n))
	err = C.MPI_Recv(ptr(buf), n, BYTE, C.int(rank), mpiTags[t],
		COMM_WORLD, &status)
	return buf, processError(err)
}

func (c *MPIComm) Send(ctx context.Context, rank int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(rank, tagUser, payload)
}

func (c *MPIComm) Receive(ctx context.Context, rank int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recv(rank, tagUser)
}

// allgatherv gathers variable length buffers from every rank.
func (c *MPIComm) allgatherv(payload []byte) ([][]byte, error) {
	counts := make([]C.int, c.size)
	n := C.int(len(payload))
	err := C.MPI_Allgather(unsafe.Pointer(&n), 1, INT32,
		unsafe.Pointer(&counts[0]), 1, INT32, COMM_WORLD)
	if err := processError(err); err != nil {
		return nil, err
	}

	disp, total := make([]C.int, c.size), 0
	for r := range counts {
		disp[r] = C.int(total)
		total += int(counts[r])
	}
	recv := make([]byte, total)
	err = C.MPI_Allgatherv(ptr(payload), n, BYTE, ptr(recv),
		&counts[0], &disp[0], BYTE, COMM_WORLD)
	if err := processError(err); err != nil {
		return nil, err
	}

	out := make([][]byte, c.size)
	for r := range out {
		out[r] = recv[disp[r] : disp[r]+counts[r]]
	}
	return out, nil
}

func (c *MPIComm) AllGather(
	ctx context.Context, payload []byte,
) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(c.rank); err != nil {
		return nil, err
	}
	return c.allgatherv(payload)
}

// AllReduce gathers every rank's values and reduces them in rank order
// rather than calling MPI_Allreduce, whose summation order is unspecified.
// This keeps results bit-identical to the other backends.
func (c *MPIComm) AllReduce(
	ctx context.Context, x []float64, op Op,
) ([]float64, error) {
	if err := checkOp(op); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(c.rank); err != nil {
		return nil, err
	}
	parts, err := c.allgatherv(encodeFloats(x))
	if err != nil {
		return nil, err
	}
	return reduceFloats(parts, len(x), op)
}

// Broadcast sends root's payload length, then the payload, and finishes
// with a barrier so that every rank has contributed before anyone returns.
func (c *MPIComm) Broadcast(
	ctx context.Context, payload []byte, root int,
) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(root); err != nil {
		return nil, err
	}

	n := C.longlong(len(payload))
	err := C.MPI_Bcast(unsafe.Pointer(&n), 1, INT64, C.int(root), COMM_WORLD)
	if err := processError(err); err != nil {
		return nil, err
	}
	buf := make([]byte, int(n))
	if c.rank == root {
		copy(buf, payload)
	}
	err = C.MPI_Bcast(ptr(buf), C.int(n), BYTE, C.int(root), COMM_WORLD)
	if err := processError(err); err != nil {
		return nil, err
	}
	return buf, processError(C.MPI_Barrier(COMM_WORLD))
}

// AllToAll is an MPI_Alltoallv over bytes, with counts exchanged first by
// MPI_Alltoall.
func (c *MPIComm) AllToAll(
	ctx context.Context, send [][]byte,
) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(c.rank); err != nil {
		return nil, err
	}
	if len(send) != c.size {
		return nil, ddgerr.ConfigErrorf("AllToAll given %d buffers for %d "+
			"ranks.", len(send), c.size)
	}

	sendCounts, sendDisp := make([]C.int, c.size), make([]C.int, c.size)
	flat := []byte{}
	for r := range send {
		sendCounts[r], sendDisp[r] = C.int(len(send[r])), C.int(len(flat))
		flat = append(flat, send[r]...)
	}

	recvCounts := make([]C.int, c.size)
	err := C.MPI_Alltoall(unsafe.Pointer(&sendCounts[0]), 1, INT32,
		unsafe.Pointer(&recvCounts[0]), 1, INT32, COMM_WORLD)
	if err := processError(err); err != nil {
		return nil, err
	}

	recvDisp, total := make([]C.int, c.size), 0
	for r := range recvCounts {
		recvDisp[r] = C.int(total)
		total += int(recvCounts[r])
	}
	recv := make([]byte, total)

	err = C.MPI_Alltoallv(ptr(flat), &sendCounts[0], &sendDisp[0], BYTE,
		ptr(recv), &recvCounts[0], &recvDisp[0], BYTE, COMM_WORLD)
	if err := processError(err); err != nil {
		return nil, err
	}

	out := make([][]byte, c.size)
	for r := range out {
		out[r] = recv[recvDisp[r] : recvDisp[r]+recvCounts[r]]
	}
	return out, nil
}

// Close finalizes MPI. MPI can't be reinitialized, so only one MPIComm
// should be created per process.
func (c *MPIComm) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return processError(C.MPI_Finalize())
}
