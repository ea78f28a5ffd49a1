package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/foliotrack/internal/db"
	"github.com/foliotrack/internal/visit"
	"github.com/google/uuid"
)

func TestOutreachCreateAndList(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewOutreachService(gdb)
	ctx := context.Background()

	if _, err := svc.Create(ctx, OutreachInput{ContactName: "Ada"}); !errors.Is(err, ErrContactEmailRequired) {
		t.Fatalf("expected ErrContactEmailRequired, got %v", err)
	}

	record, err := svc.Create(ctx, OutreachInput{
		ContactName:  " Ada Lovelace ",
		ContactEmail: "ada@example.com",
		Company:      "Analytical Engines",
		Subject:      "Hello",
	})
	if err != nil {
		t.Fatalf("create outreach: %v", err)
	}
	if _, err := uuid.Parse(record.Token); err != nil {
		t.Fatalf("expected uuid token, got %q", record.Token)
	}
	if record.ContactName != "Ada Lovelace" {
		t.Fatalf("expected trimmed contact name, got %q", record.ContactName)
	}

	records, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list outreach: %v", err)
	}
	if len(records) != 1 || records[0].Token != record.Token {
		t.Fatalf("unexpected list result: %+v", records)
	}
}

func TestOutreachRecordOpen(t *testing.T) {
	gdb := setupServiceTestDB(t)
	mClock := quartz.NewMock(t)
	svc := NewOutreachService(gdb).WithClock(mClock)
	ctx := context.Background()

	record, err := svc.Create(ctx, OutreachInput{ContactName: "Grace", ContactEmail: "grace@example.com", Company: "Navy"})
	if err != nil {
		t.Fatalf("create outreach: %v", err)
	}

	meta := visit.RequestMeta{IP: "198.51.100.4", DeviceType: visit.DeviceDesktop, Geo: visit.GeoInfo{Country: "US"}}
	first, err := svc.RecordOpen(ctx, record.Token, meta)
	if err != nil {
		t.Fatalf("record open: %v", err)
	}

	mClock.Advance(time.Hour).MustWait(ctx)
	second, err := svc.RecordOpen(ctx, record.Token, meta)
	if err != nil {
		t.Fatalf("record second open: %v", err)
	}
	if first.SessionID == second.SessionID {
		t.Fatalf("each open should synthesize its own session")
	}

	var stored db.OutreachEmail
	if err := gdb.First(&stored, record.ID).Error; err != nil {
		t.Fatalf("reload outreach: %v", err)
	}
	if stored.OpenCount != 2 {
		t.Fatalf("expected open count 2, got %d", stored.OpenCount)
	}
	if stored.LastOpenedAt == nil || !stored.LastOpenedAt.Equal(mClock.Now().UTC()) {
		t.Fatalf("unexpected last_opened_at: %v", stored.LastOpenedAt)
	}

	session := loadSession(t, gdb, first.SessionID)
	history := session.History()
	if len(history) != 1 || history[0].Path != EmailOpenPath || history[0].Meta != RecruiterEncounterTag {
		t.Fatalf("unexpected encounter history: %+v", history)
	}
	if session.UserEmail != "grace@example.com" || session.Identity()["source"] != RecruiterEncounterTag {
		t.Fatalf("unexpected encounter identity: %+v", session.Identity())
	}
	if session.Identity()["company"] != "Navy" {
		t.Fatalf("expected company in identity, got %+v", session.Identity())
	}
	if session.IPAddress != "198.51.100.4" || session.CountryName != "US" {
		t.Fatalf("unexpected request snapshot: %s %s", session.IPAddress, session.CountryName)
	}
}

func TestOutreachRecordOpenErrors(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewOutreachService(gdb)
	ctx := context.Background()

	if _, err := svc.RecordOpen(ctx, "", visit.RequestMeta{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.RecordOpen(ctx, uuid.NewString(), visit.RequestMeta{}); !errors.Is(err, ErrOutreachNotFound) {
		t.Fatalf("expected ErrOutreachNotFound, got %v", err)
	}
	if got := countSessions(t, gdb); got != 0 {
		t.Fatalf("failed opens must not create sessions, got %d", got)
	}
}

func TestOutreachRecordOpenRespectsSessionCap(t *testing.T) {
	gdb := setupServiceTestDB(t)
	mClock := quartz.NewMock(t)
	svc := NewOutreachService(gdb).WithClock(mClock).WithSessionCap(2)
	ctx := context.Background()

	record, err := svc.Create(ctx, OutreachInput{ContactEmail: "hr@example.com"})
	if err != nil {
		t.Fatalf("create outreach: %v", err)
	}
	var last *db.VisitorSession
	for i := 0; i < 3; i++ {
		last, err = svc.RecordOpen(ctx, record.Token, visit.RequestMeta{})
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		mClock.Advance(time.Minute).MustWait(ctx)
	}
	if got := countSessions(t, gdb); got != 2 {
		t.Fatalf("expected 2 sessions, got %d", got)
	}
	loadSession(t, gdb, last.SessionID)
}

func TestPixelURL(t *testing.T) {
	got := PixelURL("https://example.com/", "abc")
	if got != "https://example.com/email-open-pixel?token=abc" {
		t.Fatalf("unexpected pixel url: %s", got)
	}
}
