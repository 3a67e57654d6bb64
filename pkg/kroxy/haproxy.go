package kroxy

import (
	"bufio"
	"errors"
	"net"

	"github.com/pires/go-proxyproto"
)

// PeerAddress is the source/destination pair the HAProxy PROXY protocol
// preamble reports, exposed to filters as client_host/client_port (§6).
type PeerAddress struct {
	SrcAddress  net.Addr
	DestAddress net.Addr
}

// readProxyPreamble recognizes an optional HAProxy PROXY protocol v1/v2
// preamble as the very first bytes on an inbound connection (§4.4
// START -> HA_PROXY, §6). If the stream doesn't start with a PROXY
// preamble, go-proxyproto's reader returns proxyproto.ErrNoProxyProtocol
// and r is left untouched for the caller to proceed straight to
// API_VERSIONS/CONNECTING.
func readProxyPreamble(r *bufio.Reader) (*PeerAddress, error) {
	header, err := proxyproto.Read(r)
	if err != nil {
		if errors.Is(err, proxyproto.ErrNoProxyProtocol) {
			return nil, nil
		}
		return nil, err
	}
	if header == nil {
		return nil, nil
	}
	return &PeerAddress{
		SrcAddress:  header.SourceAddr,
		DestAddress: header.DestinationAddr,
	}, nil
}
