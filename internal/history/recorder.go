package history

import (
	"fetchd/internal/eventbus"
	"fetchd/pkg/logx"
)

// Recorder turns download lifecycle events into history rows.
type Recorder struct {
	store *Store
	bus   *eventbus.Bus
	log   logx.Logger

	unsubs []func()
}

func NewRecorder(store *Store, bus *eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Attach subscribes to completion and failure events. Detach undoes it.
func (r *Recorder) Attach() {
	r.unsubs = append(r.unsubs,
		r.bus.Subscribe(eventbus.DownloadCompleted, func(e eventbus.Event) {
			r.record(e, "completed")
		}),
		r.bus.Subscribe(eventbus.DownloadFailed, func(e eventbus.Event) {
			r.record(e, "failed")
		}),
	)
}

func (r *Recorder) Detach() {
	for _, u := range r.unsubs {
		u()
	}
	r.unsubs = nil
}

func (r *Recorder) record(e eventbus.Event, status string) {
	rec := Record{
		URL:          str(e.Data["url"]),
		Title:        str(e.Data["title"]),
		FilePath:     str(e.Data["file_path"]),
		Format:       str(e.Data["format"]),
		Uploader:     str(e.Data["uploader"]),
		Status:       status,
		ErrorMessage: str(e.Data["error"]),
		DownloadedAt: e.Time,
	}
	if n, ok := e.Data["size"].(int64); ok {
		rec.Size = n
	}

	rec, err := r.store.Add(rec)
	if err != nil {
		r.log.Warn("history insert failed", logx.String("url", rec.URL), logx.Err(err))
		return
	}
	r.log.Debug("history recorded", logx.String("id", rec.ID), logx.String("status", status))
	r.bus.Publish(eventbus.HistoryRecorded, map[string]any{"record_id": rec.ID, "status": status})
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
