package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/roffe/udsprobe"
	"github.com/roffe/udsprobe/pkg/isotp"
	"github.com/roffe/udsprobe/pkg/profile"
	"github.com/roffe/udsprobe/pkg/uds"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type session struct {
	profile *profile.Profile
	adapter udsprobe.Adapter
	link    *isotp.Link
	client  *uds.Client
	hb      *uds.Heartbeat
}

// retarget points the session at the profile's current tester/ECU ids and
// timing, restarting the tester present on the new link.
func (s *session) retarget(ctx context.Context) {
	s.stopHeartbeat()
	s.link = isotp.New(s.adapter, s.profile.LinkConfig())
	s.client = uds.New(s.link, s.profile.ClientConfig())
	if s.profile.KeepAlive.Enabled {
		s.hb = uds.StartHeartbeat(ctx, s.link, s.profile.HeartbeatConfig())
	}
}

func (s *session) stopHeartbeat() {
	if s.hb == nil {
		return
	}
	s.hb.Stop()
	if s.profile.Adapter.Debug {
		log.Printf("tester present: %d sent, %d failed", s.hb.Sent(), s.hb.Failed())
	}
	s.hb = nil
}

// withAdapter opens the configured adapter and runs fn next to a watcher that
// reports adapter events and aborts on a fatal link error.
func withAdapter(cmd *cobra.Command, fn func(ctx context.Context, p *profile.Profile, dev udsprobe.Adapter) error) error {
	p, err := loadProfile(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	dev, err := udsprobe.NewAdapter(p.Adapter.Name, p.AdapterConfig())
	if err != nil {
		return err
	}
	if err := dev.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if p.Adapter.Debug {
			log.Printf("%s: %s", dev.Name(), dev.Stats())
		}
		dev.Close()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watchAdapter(gctx, dev)
	})
	g.Go(func() error {
		defer cancel()
		return fn(gctx, p, dev)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// withSession is withAdapter plus the ISO-TP link, the UDS client and the
// optional background tester present.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	return withAdapter(cmd, func(ctx context.Context, p *profile.Profile, dev udsprobe.Adapter) error {
		s := &session{profile: p, adapter: dev}
		s.retarget(ctx)
		defer s.stopHeartbeat()
		fmt.Println(yellow("%s | tester 0x%X | ecu 0x%X | %s", dev.Name(), p.Addressing.Tester, p.Addressing.ECU, idMode(p.Extended())))
		return fn(ctx, s)
	})
}

func watchAdapter(ctx context.Context, dev udsprobe.Adapter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-dev.Err():
			return err
		case e := <-dev.Event():
			switch {
			case e.Dropped():
				log.Println(red("%s, responses may be incomplete", e))
			case e.Type == udsprobe.EventTypeError:
				log.Println(red("%s", e))
			default:
				log.Println(e)
			}
		}
	}
}

func idMode(extended bool) string {
	if extended {
		return "29-bit"
	}
	return "11-bit"
}
