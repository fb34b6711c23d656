package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

// DefaultHeartbeatSchedule pings each device once a minute.
const DefaultHeartbeatSchedule = "@every 60s"

// StartHeartbeat schedules system/heart_beat on schedule (any robfig/cron
// expression or descriptor). Calling it again while running is a no-op.
func (d *Device) StartHeartbeat(schedule string) error {
	if schedule == "" {
		schedule = DefaultHeartbeatSchedule
	}

	d.heartbeatMu.Lock()
	defer d.heartbeatMu.Unlock()
	if d.heartbeatCron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(d.logger))))
	if _, err := scheduler.AddFunc(schedule, func() { _ = d.Ping(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("heartbeat schedule %q: %w", schedule, err)
	}
	scheduler.Start()

	d.heartbeatCron = scheduler
	d.heartbeatCancel = cancel
	return nil
}

// StopHeartbeat cancels an in-flight ping and waits for the scheduler to
// finish. It is safe to call when no heartbeat is running.
func (d *Device) StopHeartbeat() {
	d.heartbeatMu.Lock()
	defer d.heartbeatMu.Unlock()
	if d.heartbeatCron == nil {
		return
	}
	d.heartbeatCancel()
	<-d.heartbeatCron.Stop().Done()
	d.heartbeatCron = nil
	d.heartbeatCancel = nil
}

// HeartbeatRunning reports whether a heartbeat schedule is active.
func (d *Device) HeartbeatRunning() bool {
	d.heartbeatMu.Lock()
	defer d.heartbeatMu.Unlock()
	return d.heartbeatCron != nil
}

// Ping sends one heartbeat. Failures are counted and logged; cancellation
// of ctx is the normal way a ping ends during shutdown and is not counted.
func (d *Device) Ping(ctx context.Context) error {
	env, err := d.sender.Send(ctx, d.info.Host, protocol.HeartBeat())
	if err == nil {
		err = env.Err()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		d.mu.Lock()
		d.heartbeatFailures++
		d.heartbeatMissed++
		d.mu.Unlock()
		d.logger.Printf("HEOS: %s: heartbeat failed: %v", d.info.Name, err)
		return err
	}

	d.mu.Lock()
	d.heartbeats++
	d.heartbeatMissed = 0
	d.lastHeartbeat = time.Now()
	d.mu.Unlock()
	return nil
}
