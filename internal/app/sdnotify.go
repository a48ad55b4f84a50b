package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "feedwatch/pkg/logx"
)

// sdNotifier reports lifecycle to systemd. Every call is a no-op when the
// process was not started with NOTIFY_SOCKET.
type sdNotifier struct {
	log      logx.Logger
	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

func newSdNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log:      log,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *sdNotifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("systemd notified", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// RunWatchdog pings at half the WatchdogSec interval until ctx is done. A ping
// is withheld while healthy reports an error, so systemd restarts a wedged
// process.
func (n *sdNotifier) RunWatchdog(ctx context.Context, healthy func() error) error {
	every, err := n.watchdog()
	if err != nil {
		return err
	}
	if every <= 0 {
		return nil
	}
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", every))

	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil {
				if err := healthy(); err != nil {
					n.log.Warn("watchdog ping withheld", logx.Err(err))
					continue
				}
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
