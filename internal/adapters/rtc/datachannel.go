package rtc

import (
	"errors"
	"io"

	"github.com/dkeye/Dialtone/internal/app/transfer"
	"github.com/pion/webrtc/v4"
)

// DataChannel adapts a pion data channel to core.DataTransport.
type DataChannel struct {
	*webrtc.DataChannel
}

func NewDataChannel(dc *webrtc.DataChannel) *DataChannel {
	return &DataChannel{DataChannel: dc}
}

// Send maps closed-channel errors to transfer.ErrTransportClosed so the
// sender stops retrying.
func (d *DataChannel) Send(b []byte) error {
	err := d.DataChannel.Send(b)
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, webrtc.ErrConnectionClosed) {
		return errors.Join(transfer.ErrTransportClosed, err)
	}
	return err
}

func (d *DataChannel) OnFrame(fn func([]byte)) {
	d.DataChannel.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			return
		}
		fn(msg.Data)
	})
}
