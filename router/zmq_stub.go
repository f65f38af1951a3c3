//go:build !zmq

package router

// ListenZMQ needs libzmq and cgo; build with -tags zmq to enable it.
func ListenZMQ(addr string, opts Options) (Socket, error) {
	return nil, ErrZMQUnavailable
}
