package services

import (
	"context"
	"strings"
	"testing"

	"github.com/wfunc/geoguess/errs"
	"github.com/wfunc/geoguess/network"
)

func TestPartyService_CreateParty(t *testing.T) {
	f := newFixture(t, 0)
	p, err := f.parties.CreateParty(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CreateParty failed: %v", err)
	}
	if p.Admin != "alice" || len(p.Players) != 1 || p.Players[0] != "alice" {
		t.Errorf("Expected alice as sole member and admin, got %+v", p)
	}
	if len(p.Code) != 6 || strings.ContainsAny(p.Code, "01IO") {
		t.Errorf("Unexpected join code %q", p.Code)
	}
	if ev := f.hub.OfType(network.EventPartyUpdated); len(ev) != 1 || ev[0].Room != "party:"+p.ID {
		t.Errorf("Expected one party.updated to the party room, got %+v", ev)
	}
}

func TestPartyService_JoinParty(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	p := f.party(t, "alice", "bob")

	if len(p.Players) != 2 || p.Players[1] != "bob" {
		t.Fatalf("Expected [alice bob], got %v", p.Players)
	}
	again, err := f.parties.JoinParty(ctx, p.Code, "bob")
	if err != nil {
		t.Fatalf("Joining twice should succeed, got %v", err)
	}
	if len(again.Players) != 2 {
		t.Errorf("Joining twice must not duplicate the member, got %v", again.Players)
	}

	_, err = f.parties.JoinParty(ctx, "NOPE42", "carol")
	expectKind(t, err, errs.NotFound)
}

func TestPartyService_JoinRejectedWhileGameInProgress(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	p := f.party(t, "alice", "bob")

	game, _, err := f.games.StartGame(ctx, StartRequest{PartyID: p.ID, Player: "alice", Map: "Europe", RoundsNumber: intPtr(1)})
	if err != nil {
		t.Fatalf("StartGame failed: %v", err)
	}
	_, err = f.parties.JoinParty(ctx, p.Code, "carol")
	expectKind(t, err, errs.InvalidState)

	if _, err := f.games.AbortGame(ctx, game.ID, "alice", ""); err != nil {
		t.Fatalf("AbortGame failed: %v", err)
	}
	if _, err := f.parties.JoinParty(ctx, p.Code, "carol"); err != nil {
		t.Errorf("Joining after the game ended should succeed, got %v", err)
	}
}

func TestPartyService_AdminTransfer(t *testing.T) {
	f := newFixture(t, 0)
	p := f.party(t, "alice", "bob", "carol")

	left, deleted, err := f.parties.LeaveParty(context.Background(), p.ID, "alice")
	if err != nil {
		t.Fatalf("LeaveParty failed: %v", err)
	}
	if deleted {
		t.Fatal("The party still has members")
	}
	if left.Admin != "bob" {
		t.Errorf("Expected admin to pass to bob, got %s", left.Admin)
	}
	if left.HasPlayer("alice") {
		t.Error("alice should no longer be a member")
	}
}

func TestPartyService_LastMemberLeavingDeletesParty(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	p := f.party(t, "alice")

	_, deleted, err := f.parties.LeaveParty(ctx, p.ID, "alice")
	if err != nil {
		t.Fatalf("LeaveParty failed: %v", err)
	}
	if !deleted {
		t.Error("Expected the party to be deleted")
	}
	_, err = f.parties.GetParty(ctx, p.ID)
	expectKind(t, err, errs.NotFound)
	_, err = f.parties.JoinParty(ctx, p.Code, "bob")
	expectKind(t, err, errs.NotFound)

	events := f.hub.OfType(network.EventPartyUpdated)
	last, ok := events[len(events)-1].Data.(partyDeleted)
	if !ok || !last.Deleted || last.ID != p.ID {
		t.Errorf("Expected a deletion notice, got %+v", events[len(events)-1].Data)
	}
}

func TestPartyService_LeaveByNonMember(t *testing.T) {
	f := newFixture(t, 0)
	p := f.party(t, "alice")
	_, _, err := f.parties.LeaveParty(context.Background(), p.ID, "mallory")
	expectKind(t, err, errs.InvalidState)
}
