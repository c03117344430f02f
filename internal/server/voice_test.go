package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcarver/beacon/internal/stats"
	"github.com/pcarver/beacon/internal/types"
)

// voiceFixture authenticates three sessions and creates one voice channel.
func voiceFixture(t *testing.T) (*ChatServer, *stats.MockStatsUpdater, *Session, *Session, *Session) {
	t.Helper()

	cs, st := newTestChatServer(t, nil)

	alice := newTestSession(t, cs, "10.0.0.1:1")
	authenticate(t, cs, alice, "alice")
	bob := newTestSession(t, cs, "10.0.0.2:1")
	authenticate(t, cs, bob, "bob")
	carol := newTestSession(t, cs, "10.0.0.3:1")
	authenticate(t, cs, carol, "carol")

	cs.dispatch(alice, &Frame{Type: TypeCreateVoiceChannel, Name: "standup", Quality: "high"})
	for _, s := range []*Session{alice, bob, carol} {
		f := waitForFrame(t, s, TypeVoiceChannelList)
		require.Len(t, f.VoiceChannels, 1)
		drainFrames(s)
	}

	return cs, st, alice, bob, carol
}

func Test_joinVoice(t *testing.T) {
	cs, st, alice, bob, _ := voiceFixture(t)

	cs.dispatch(alice, &Frame{Type: TypeVoiceJoin, Channel: "standup"})
	f := waitForFrame(t, alice, TypeVoiceJoin)
	assert.Equal(t, "alice", f.User)
	assert.Equal(t, "standup", f.Channel)
	require.Len(t, f.Users, 1)
	assert.Equal(t, "standup", alice.VoiceChannel())

	// Existing members are told about the newcomer so they initiate the
	// offer; the newcomer gets the member list instead.
	cs.dispatch(bob, &Frame{Type: TypeVoiceJoin, Channel: "standup"})

	f = waitForFrame(t, alice, TypeVoiceJoin)
	assert.Equal(t, "bob", f.User)
	assert.Empty(t, f.Users)

	f = waitForFrame(t, bob, TypeVoiceJoin)
	assert.Equal(t, "bob", f.User)
	assert.Len(t, f.Users, 2)

	assert.Equal(t, 2, st.Count(stats.VoiceParticipants))
}

func Test_joinVoice_unknownChannel(t *testing.T) {
	cs, _, alice, _, _ := voiceFixture(t)

	cs.dispatch(alice, &Frame{Type: TypeVoiceJoin, Channel: "nope"})
	f := recvFrame(t, alice)
	assert.Equal(t, CodeNotFound, f.Code)
	assert.Empty(t, alice.VoiceChannel())
}

func Test_leaveVoice(t *testing.T) {
	cs, st, alice, bob, _ := voiceFixture(t)

	cs.dispatch(alice, &Frame{Type: TypeVoiceJoin, Channel: "standup"})
	waitForFrame(t, alice, TypeVoiceJoin)
	cs.dispatch(bob, &Frame{Type: TypeVoiceJoin, Channel: "standup"})
	waitForFrame(t, bob, TypeVoiceJoin)
	waitForFrame(t, alice, TypeVoiceJoin)

	cs.dispatch(bob, &Frame{Type: TypeVoiceLeave})

	f := waitForFrame(t, alice, TypeVoiceLeave)
	assert.Equal(t, "bob", f.User)
	assert.Empty(t, bob.VoiceChannel())
	assert.Equal(t, 1, st.Count(stats.VoiceParticipants))

	// Leaving when not in a voice channel is a silent no-op.
	cs.dispatch(bob, &Frame{Type: TypeVoiceLeave})
	assertNoFrame(t, bob)
}

func Test_relaySignal(t *testing.T) {
	cs, _, alice, bob, carol := voiceFixture(t)

	cs.dispatch(alice, &Frame{Type: TypeVoiceJoin, Channel: "standup"})
	waitForFrame(t, alice, TypeVoiceJoin)
	cs.dispatch(bob, &Frame{Type: TypeVoiceJoin, Channel: "standup"})
	waitForFrame(t, bob, TypeVoiceJoin)
	waitForFrame(t, alice, TypeVoiceJoin)

	cs.dispatch(alice, &Frame{Type: TypeVoiceOffer, Target: "bob", SDP: "v=0 offer"})
	f := waitForFrame(t, bob, TypeVoiceOffer)
	assert.Equal(t, "alice", f.User)
	assert.Equal(t, "v=0 offer", f.SDP)

	cs.dispatch(bob, &Frame{Type: TypeVoiceAnswer, Target: "alice", SDP: "v=0 answer"})
	f = waitForFrame(t, alice, TypeVoiceAnswer)
	assert.Equal(t, "bob", f.User)
	assert.Equal(t, "v=0 answer", f.SDP)

	cs.dispatch(alice, &Frame{Type: TypeVoiceCandidate, Target: "bob", Candidate: "candidate:1"})
	f = waitForFrame(t, bob, TypeVoiceCandidate)
	assert.Equal(t, "candidate:1", f.Candidate)

	// Senders outside the voice channel cannot reach its members.
	cs.dispatch(carol, &Frame{Type: TypeVoiceOffer, Target: "bob", SDP: "sneaky"})
	assertNoFrame(t, carol)
	assertNoFrame(t, bob)

	// Unknown targets and self-signaling are dropped.
	cs.dispatch(alice, &Frame{Type: TypeVoiceOffer, Target: "nobody", SDP: "x"})
	cs.dispatch(alice, &Frame{Type: TypeVoiceOffer, Target: "alice", SDP: "x"})
	assertNoFrame(t, alice)
}

func Test_updateVoiceChannel(t *testing.T) {
	cs, _, alice, bob, _ := voiceFixture(t)

	cs.dispatch(alice, &Frame{Type: TypeVoiceJoin, Channel: "standup"})
	waitForFrame(t, alice, TypeVoiceJoin)

	bitrate := 32000
	cs.dispatch(bob, &Frame{Type: TypeUpdateVoiceChannel, Name: "standup", Bitrate: &bitrate})

	// Members get the targeted update so they can renegotiate.
	f := waitForFrame(t, alice, TypeUpdateVoiceChannel)
	require.NotNil(t, f.Bitrate)
	assert.Equal(t, 32000, *f.Bitrate)
	assert.Equal(t, "high", f.Quality)

	f = waitForFrame(t, bob, TypeVoiceChannelList)
	require.Len(t, f.VoiceChannels, 1)
	assert.Equal(t, 32000, f.VoiceChannels[0].Bitrate)

	negative := -1
	cs.dispatch(bob, &Frame{Type: TypeUpdateVoiceChannel, Name: "standup", Bitrate: &negative})
	f = recvFrame(t, bob)
	assert.Equal(t, CodeInvalid, f.Code)

	cs.dispatch(bob, &Frame{Type: TypeUpdateVoiceChannel, Name: "nope"})
	f = recvFrame(t, bob)
	assert.Equal(t, CodeNotFound, f.Code)
}

func Test_deleteVoiceChannel_evictsMembers(t *testing.T) {
	cs, _, alice, bob, _ := voiceFixture(t)

	cs.dispatch(alice, &Frame{Type: TypeVoiceJoin, Channel: "standup"})
	waitForFrame(t, alice, TypeVoiceJoin)

	cs.dispatch(bob, &Frame{Type: TypeDeleteVoiceChannel, Name: "standup"})

	f := waitForFrame(t, alice, TypeVoiceChannelList)
	assert.Empty(t, f.VoiceChannels)
	assert.Empty(t, alice.VoiceChannel())
}

// Joining a voice channel that is being torn down concurrently must
// either land in the room or fail with not-found. Either way no member
// may be stranded in a removed room and the participant gauge must come
// back to zero once everyone has left.
func Test_joinVoice_deleteRace(t *testing.T) {
	cs, st, alice, _, _ := voiceFixture(t)

	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("room-%d", i)
		require.NoError(t, cs.CreateVoiceChannel(types.VoiceChannel{Name: name, Quality: "low"}))

		done := make(chan struct{})
		go func() {
			assert.NoError(t, cs.DeleteVoiceChannel(name))
			close(done)
		}()
		if err := cs.joinVoice(alice, name); err == nil {
			cs.leaveVoice(alice)
		} else {
			assert.ErrorIs(t, err, ErrChannelNotFound)
		}
		<-done
	}

	assert.Empty(t, alice.VoiceChannel())
	assert.Equal(t, 0, st.Count(stats.VoiceParticipants))
	assert.Len(t, cs.voiceChannelList(), 1)
}

func Test_deregister_leavesVoice(t *testing.T) {
	cs, _, alice, bob, _ := voiceFixture(t)

	cs.dispatch(alice, &Frame{Type: TypeVoiceJoin, Channel: "standup"})
	waitForFrame(t, alice, TypeVoiceJoin)
	cs.dispatch(bob, &Frame{Type: TypeVoiceJoin, Channel: "standup"})
	waitForFrame(t, alice, TypeVoiceJoin)

	cs.Deregister(bob)

	f := waitForFrame(t, alice, TypeVoiceLeave)
	assert.Equal(t, "bob", f.User)
}
