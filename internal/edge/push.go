package edge

import (
	"bytes"
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/agrisense/agrisensed/internal/notify"
)

const (
	pushTitle       = "AgriSense AI"
	pushDefaultBody = "You have a new alert!"
	pushRecordIcon  = "🔔"
)

// PushPayload is a decoded push message. Plain-text payloads become the
// body.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	URL   string `json:"url"`
}

func ParsePush(data []byte) PushPayload {
	var p PushPayload
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &p) != nil {
		p = PushPayload{Body: string(trimmed)}
	}
	if p.Title == "" {
		p.Title = pushTitle
	}
	if p.Body == "" {
		p.Body = pushDefaultBody
	}
	if p.URL == "" {
		p.URL = "/"
	}
	return p
}

// Push shows the payload as a platform alert and appends it to the
// notification log at the same time. An alert failure is logged only; the
// returned error is the log's.
//
// The notification log owns the permission decision, so a grant cached
// before a restart still lets alerts through.
func (in *Intermediary) Push(ctx context.Context, data []byte) (notify.Record, error) {
	p := ParsePush(data)

	perm := notify.PermissionUnsupported
	switch {
	case in.notes != nil:
		perm = in.notes.Permission()
	case in.alerter != nil:
		perm = in.alerter.Permission(ctx)
	}

	var g errgroup.Group
	g.Go(func() error {
		if in.alerter == nil || perm != notify.PermissionGranted {
			return nil
		}
		err := in.alerter.Show(ctx, notify.Alert{
			Title: p.Title,
			Body:  p.Body,
			Icon:  notify.DefaultIcon,
			Badge: notify.DefaultBadge,
			Tag:   "agrisense-push",
			URL:   p.URL,
		})
		if err != nil {
			in.logger.Warn("push alert failed", "title", p.Title, "error", err)
		}
		return nil
	})

	var rec notify.Record
	g.Go(func() error {
		if in.notes == nil {
			return nil
		}
		icon := p.Icon
		if icon == "" {
			icon = pushRecordIcon
		}
		var err error
		rec, err = in.notes.Append(ctx, notify.Draft{Title: p.Title, Body: p.Body, Icon: icon, URL: p.URL})
		return err
	})

	if err := g.Wait(); err != nil {
		return notify.Record{}, err
	}
	return rec, nil
}
