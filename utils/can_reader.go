//go:build linux || darwin
// +build linux darwin

package utils

import (
	"context"
	"fmt"
	"net"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// CANReader defines the interface for reading CAN frames
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// SocketCANReader implements CANReader using Einride's socketcan
type SocketCANReader struct {
	conn   net.Conn
	recv   *socketcan.Receiver
	frames chan can.Frame
	errs   chan error
}

// NewSocketCANReader creates a new SocketCAN reader and starts its receive pump.
func NewSocketCANReader(ctx context.Context, ifname string) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", ifname)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial: %w", err)
	}

	r := &SocketCANReader{
		conn:   conn,
		recv:   socketcan.NewReceiver(conn),
		frames: make(chan can.Frame, 64),
		errs:   make(chan error, 1),
	}
	go r.pump()
	return r, nil
}

// pump owns the receiver; ReadFrame only selects on its channels so a
// cancelled context never leaves a second goroutine blocked in Receive.
func (r *SocketCANReader) pump() {
	for r.recv.Receive() {
		if r.recv.HasErrorFrame() {
			continue
		}
		r.frames <- r.recv.Frame()
	}
	err := r.recv.Err()
	if err == nil {
		err = fmt.Errorf("socketcan receiver closed")
	}
	r.errs <- err
	close(r.frames)
}

// ReadFrame blocks until a frame arrives, the receiver fails, or ctx ends.
func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case frame, ok := <-r.frames:
		if !ok {
			return can.Frame{}, <-r.errs
		}
		return frame, nil
	}
}

// Close closes the CAN socket
func (r *SocketCANReader) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
