//go:build windows

package netstack

import (
	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
	"github.com/CodeByAnshuman/Chat-App/pkg/transport/winpipe"
)

func newWinPipeTransport() (transport.Transport, error) { return winpipe.New(), nil }
