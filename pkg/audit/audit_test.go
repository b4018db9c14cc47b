// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sampleRecords(base time.Time) []Record {
	return []Record{
		{SessionID: "s1", Round: 1, Nonce: "n1", IntentHash: "h1", PhiC: 0.9, PhiS: 0.6, Rho: 0.6, Reliability: 1, Availability: 1,
			Action: "CLARIFY", CapabilityID: "echo:v1", ClientState: "REFINING", Time: base},
		{SessionID: "s1", Round: 2, Nonce: "n2", IntentHash: "h2", PhiC: 0.9, PhiS: 0.874, Rho: 0.92, Reliability: 0.95, Availability: 1,
			Action: "EXECUTE", CapabilityID: "echo:v1", ClientState: "SATISFIED", Time: base.Add(time.Second)},
		{SessionID: "s2", Round: 1, Nonce: "n3", IntentHash: "h3", PhiC: 0.9, PhiS: 0.3, Rho: 0.3, Reliability: 1, Availability: 1,
			Action: "PROPOSE", Alternatives: []string{"reverse:v1", "help:v1"}, ClientState: "REFINING", Time: base.Add(2 * time.Second)},
		{SessionID: "s3", Round: 1, Nonce: "n4", Action: "REFUSE", Reason: "no_capability_match", ClientState: "REFUSED", Time: base.Add(3 * time.Second)},
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	recs := sampleRecords(base)
	for _, rec := range recs {
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := store.List(ctx, Filter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(recs[:2], got); diff != "" {
		t.Fatalf("session filter mismatch (-want +got):\n%s", diff)
	}

	got, err = store.List(ctx, Filter{Action: "PROPOSE"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || !cmp.Equal(got[0].Alternatives, []string{"reverse:v1", "help:v1"}) {
		t.Fatalf("unexpected propose records: %+v", got)
	}

	got, err = store.List(ctx, Filter{Reason: "no_capability_match"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "s3" {
		t.Fatalf("unexpected refuse records: %+v", got)
	}

	got, err = store.List(ctx, Filter{Since: base.Add(time.Second), Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Nonce != "n2" || got[1].Nonce != "n3" {
		t.Fatalf("unexpected since/limit records: %+v", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(0))
}

func TestMemoryStoreCapacity(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	for _, rec := range sampleRecords(time.Now()) {
		_ = s.Record(ctx, rec)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", s.Len())
	}
	got, _ := s.List(ctx, Filter{})
	if got[0].Nonce != "n3" {
		t.Fatalf("oldest records should be dropped, got %s first", got[0].Nonce)
	}
}

func TestMemoryStoreCopiesAlternatives(t *testing.T) {
	s := NewMemoryStore(0)
	alts := []string{"a:v1"}
	_ = s.Record(context.Background(), Record{SessionID: "s", Action: "PROPOSE", Alternatives: alts})
	alts[0] = "mutated"
	got, _ := s.List(context.Background(), Filter{})
	if got[0].Alternatives[0] != "a:v1" {
		t.Fatalf("store must not alias caller slices")
	}
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", "file:sinp_audit_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	exerciseStore(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("close of borrowed db should be a no-op: %v", err)
	}
}

func TestOpenSQLite(t *testing.T) {
	store, err := OpenSQLite("file:sinp_audit_open?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Record(context.Background(), Record{SessionID: "s", Round: 1, Action: "REFUSE"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := store.List(context.Background(), Filter{})
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one record, got %d (%v)", len(got), err)
	}
	if got[0].Alternatives != nil {
		t.Fatalf("empty alternatives should decode as nil, got %v", got[0].Alternatives)
	}
}

func TestNewSQLiteStoreNilDB(t *testing.T) {
	if _, err := NewSQLiteStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}
