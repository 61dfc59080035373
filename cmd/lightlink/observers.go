package main

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/lightlink/internal/actuator"
	"github.com/nerrad567/lightlink/internal/controller"
	"github.com/nerrad567/lightlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/lightlink/internal/journal"
)

const (
	// journalWriteTimeout bounds one journal insert on the loop goroutine.
	journalWriteTimeout = 2 * time.Second

	// maxJournalPayload caps the stored raw payload.
	maxJournalPayload = 512
)

// warnLogger is the subset of the logger used by observers.
type warnLogger interface {
	Warn(msg string, args ...any)
}

// journalObserver records every dispatch in the command journal.
// Write failures are logged and never reach the loop.
type journalObserver struct {
	repo journal.Repository
	log  warnLogger
}

func newJournalObserver(repo journal.Repository, log warnLogger) *journalObserver {
	return &journalObserver{repo: repo, log: log}
}

func (o *journalObserver) OnDispatch(out controller.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()

	if err := o.repo.Record(ctx, journalEntry(out)); err != nil {
		o.log.Warn("failed to record command", "error", err, "result", string(out.Result))
	}
}

func (o *journalObserver) OnSession(controller.SessionEvent) {}

func journalEntry(out controller.Outcome) *journal.Entry {
	return &journal.Entry{
		Topic:       out.Topic,
		Command:     out.Command,
		Result:      string(out.Result),
		StateBefore: out.Before.String(),
		StateAfter:  out.After.String(),
		Payload:     truncatePayload(out.Payload, maxJournalPayload),
		CreatedAt:   out.At,
	}
}

// truncatePayload returns at most n bytes of p, cut on a rune boundary.
func truncatePayload(p []byte, n int) string {
	if len(p) <= n {
		return string(p)
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(p[cut]) {
		cut--
	}
	return string(p[:cut])
}

// telemetryObserver exports dispatches and session changes to InfluxDB.
type telemetryObserver struct {
	client   *influxdb.Client
	deviceID string
}

func newTelemetryObserver(client *influxdb.Client, deviceID string) *telemetryObserver {
	return &telemetryObserver{client: client, deviceID: deviceID}
}

func (o *telemetryObserver) OnDispatch(out controller.Outcome) {
	o.client.WriteLightState(o.deviceID, lightSample(out))
}

func (o *telemetryObserver) OnSession(e controller.SessionEvent) {
	o.client.WriteSession(o.deviceID, sessionSample(e))
}

func lightSample(out controller.Outcome) influxdb.LightSample {
	return influxdb.LightSample{
		Command: out.Command,
		Result:  string(out.Result),
		On:      out.After == actuator.On,
		At:      out.At,
	}
}

func sessionSample(e controller.SessionEvent) influxdb.SessionSample {
	return influxdb.SessionSample{
		Event:      string(e.Type),
		Attempt:    e.Attempt,
		ReasonCode: int(e.ReasonCode),
		At:         e.At,
	}
}
