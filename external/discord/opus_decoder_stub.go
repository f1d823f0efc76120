//go:build !opus

package discord

func newFrameDecoder() (frameDecoder, error) {
	return nil, errDecodeUnavailable
}
