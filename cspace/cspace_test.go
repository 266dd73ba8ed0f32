package cspace

import (
	"testing"

	"github.com/nyxkernel/corekernel/object"
	"github.com/nyxkernel/corekernel/rights"
)

func TestDeriveNarrowsRights(t *testing.T) {
	cs := New()
	objID := object.NextID()
	root := cs.Insert(objID, rights.TypeEndpoint, rights.SEND|rights.RECEIVE|rights.GRANT|rights.DUPLICATE)

	child, err := cs.Derive(root, rights.SEND|rights.WAIT)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}

	_, r, err := cs.Identify(child)
	if err != nil {
		t.Fatalf("identify failed: %v", err)
	}
	if r != rights.SEND {
		t.Fatalf("expected derived rights SEND only, got %s", r)
	}
}

func TestDeriveRequiresDuplicate(t *testing.T) {
	cs := New()
	objID := object.NextID()
	root := cs.Insert(objID, rights.TypeEndpoint, rights.SEND)

	if _, err := cs.Derive(root, rights.SEND); err == nil {
		t.Fatalf("expected derive without DUPLICATE to fail")
	}
}

func TestRevokeInvalidatesDescendants(t *testing.T) {
	// Mirrors scenario S1: derive C1 with SEND|RECEIVE|GRANT, derive C2
	// from C1 with SEND, revoke C1, C2 must now fail InvalidCapability
	// while the original root capability remains live.
	cs := New()
	objID := object.NextID()
	root := cs.Insert(objID, rights.TypeEndpoint, rights.SEND|rights.RECEIVE|rights.GRANT|rights.DUPLICATE|rights.REVOKE)

	c1, err := cs.Derive(root, rights.SEND|rights.RECEIVE|rights.GRANT|rights.DUPLICATE|rights.REVOKE)
	if err != nil {
		t.Fatalf("derive c1: %v", err)
	}
	c2, err := cs.Derive(c1, rights.SEND)
	if err != nil {
		t.Fatalf("derive c2: %v", err)
	}

	if err := cs.Revoke(c1); err != nil {
		t.Fatalf("revoke c1: %v", err)
	}

	if _, _, err := cs.Identify(c2); err == nil {
		t.Fatalf("expected c2 to be invalid after revoking c1")
	}
	if _, _, err := cs.Identify(root); err != nil {
		t.Fatalf("expected root to remain live: %v", err)
	}
}

func TestRevokeFiresHookOncePerObject(t *testing.T) {
	cs := New()
	objID := object.NextID()
	root := cs.Insert(objID, rights.TypeNotification, rights.SEND|rights.DUPLICATE|rights.REVOKE)
	c1, _ := cs.Derive(root, rights.SEND)
	c2, _ := cs.Derive(root, rights.SEND)
	_ = c1
	_ = c2

	calls := 0
	RegisterRevokeHook(objID, func() { calls++ })
	defer UnregisterRevokeHook(objID)

	if err := cs.Revoke(root); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected hook to fire exactly once, fired %d times", calls)
	}
}

func TestIdentifyUnknownHandle(t *testing.T) {
	cs := New()
	if _, _, err := cs.Identify(999); err == nil {
		t.Fatalf("expected identify on unknown handle to fail")
	}
}

func TestGrantParentsOnSourceSlot(t *testing.T) {
	src := New()
	dst := New()
	objID := object.NextID()
	root := src.Insert(objID, rights.TypeEndpoint, rights.SEND|rights.RECEIVE|rights.GRANT|rights.TRANSFER|rights.DUPLICATE|rights.REVOKE)

	granted, err := src.Grant(root, dst, rights.SEND|rights.RECEIVE)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, _, err := dst.Identify(granted); err != nil {
		t.Fatalf("expected granted handle to resolve in target cspace: %v", err)
	}

	// Revoking the source must cascade into the grant (confinement).
	if err := src.Revoke(root); err != nil {
		t.Fatalf("revoke source: %v", err)
	}
	if _, _, err := dst.Identify(granted); err == nil {
		t.Fatalf("expected granted capability to be invalidated when source is revoked")
	}
}
