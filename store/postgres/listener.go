package postgres

import (
	"context"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/seuros/solid-mcp-go/mcperr"
)

// listener bridges pgx's blocking WaitForNotification into a Go channel so
// subscriber.go can select on it alongside shutdown and tick cases.
type listener struct {
	conn          *pgx.Conn
	notifications chan int64
	done          chan struct{}
	closeOnce     sync.Once
	err           error
}

func (l *listener) run(ctx context.Context) {
	defer close(l.notifications)

	for {
		notif, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			l.err = mcperr.WrapStore("wait_for_notification", err)
			return
		}

		id, err := strconv.ParseInt(notif.Payload, 10, 64)
		if err != nil {
			// Advisory payload only; a malformed one is not fatal, the
			// caller's next fetch is still authoritative.
			continue
		}

		select {
		case l.notifications <- id:
		case <-l.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *listener) Notifications() <-chan int64 { return l.notifications }

func (l *listener) Err() error { return l.err }

func (l *listener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return l.conn.Close(context.Background())
}
