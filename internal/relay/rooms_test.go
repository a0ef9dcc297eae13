package relay

import "testing"

func TestRoomsBroadcastExcludesSender(t *testing.T) {
	rooms := NewRooms()
	sender, senderFrames := newTestConn("u1")
	other, otherFrames := newTestConn("u2")
	defer sender.Close()
	defer other.Close()

	rooms.Join(sender, "conv1")
	rooms.Join(other, "conv1")

	rooms.EmitToRoom("conv1", typingFrame("conv1", true), sender)

	if f := nextFrame(t, otherFrames); f.Event != EventTypingIndicator {
		t.Fatalf("expected typing_indicator, got %q", f.Event)
	}
	expectNoFrame(t, senderFrames)
}

func TestRoomsLeaveAllOnDisconnect(t *testing.T) {
	rooms := NewRooms()
	c, frames := newTestConn("u1")
	defer c.Close()

	rooms.Join(c, "a")
	rooms.Join(c, "b")
	rooms.Join(c, "a") // double join is a no-op
	if rooms.MemberCount("a") != 1 || rooms.MemberCount("b") != 1 {
		t.Fatal("unexpected membership after joins")
	}

	rooms.LeaveAll(c)
	if rooms.MemberCount("a") != 0 || rooms.MemberCount("b") != 0 {
		t.Fatal("disconnect must leave no orphaned membership")
	}

	rooms.EmitToRoom("a", typingFrame("a", true), nil)
	expectNoFrame(t, frames)
}

func TestRoomsLeaveSingleRoom(t *testing.T) {
	rooms := NewRooms()
	c, _ := newTestConn("u1")
	defer c.Close()

	rooms.Join(c, "a")
	rooms.Join(c, "b")
	rooms.Leave(c, "a")
	if rooms.MemberCount("a") != 0 {
		t.Fatal("expected room a empty")
	}
	if rooms.MemberCount("b") != 1 {
		t.Fatal("expected room b intact")
	}
}

func TestConnSendDropsWhenQueueFull(t *testing.T) {
	// No WritePump draining, so the queue fills and further sends drop.
	sock := &fakeSocket{frames: make(chan Frame, 1)}
	c := NewConn(sock, "u1")
	defer c.Close()

	dropped := false
	for i := 0; i < outboundQueueSize+8; i++ {
		if !c.Send(Frame{Event: EventPong}) {
			dropped = true
			break
		}
	}
	if !dropped {
		t.Fatal("expected sends to drop once the queue is full")
	}
}

func TestConnSendAfterCloseFails(t *testing.T) {
	c, _ := newTestConn("u1")
	c.Close()
	if c.Send(Frame{Event: EventPong}) {
		t.Fatal("send after close must report failure")
	}
}
