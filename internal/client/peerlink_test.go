package client

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

// fakePC satisfies PeerConnection and records everything applied to it.
type fakePC struct {
	mu          sync.Mutex
	remoteDesc  *webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	tracks      int
	closed      bool
	onICE       func(webrtc.ICECandidateInit)
	onConnected func()
	onClosed    func()
	failOffer   bool
}

func (f *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	if f.failOffer {
		return webrtc.SessionDescription{}, errors.New("create offer failed")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (f *fakePC) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDesc = &offer
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (f *fakePC) AcceptAnswer(answer webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDesc = &answer
	return nil
}

func (f *fakePC) AddICECandidate(ci webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, ci)
	return nil
}

func (f *fakePC) AddTrack(webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks++
	return nil
}

func (f *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onICE = fn }
func (f *fakePC) OnConnected(fn func())                           { f.onConnected = fn }
func (f *fakePC) OnClosed(fn func())                              { f.onClosed = fn }

func (f *fakePC) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakePC) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakePC) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

func TestInitiatorStateMachine(t *testing.T) {
	pc := &fakePC{}
	link := newPeerLink("remote", pc)

	if link.State() != LinkCreated {
		t.Fatalf("initial state: %v", link.State())
	}

	offer, err := link.StartOffer()
	if err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	if offer.SDP == "" || link.State() != LinkOfferSent {
		t.Fatalf("after StartOffer: sdp=%q state=%v", offer.SDP, link.State())
	}

	err = link.AcceptAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if err != nil {
		t.Fatalf("AcceptAnswer: %v", err)
	}
	if link.State() != LinkAnswerReceived {
		t.Fatalf("after AcceptAnswer: %v", link.State())
	}

	link.markConnected()
	if link.State() != LinkConnected {
		t.Fatalf("after connect: %v", link.State())
	}
}

func TestResponderStateMachine(t *testing.T) {
	pc := &fakePC{}
	link := newPeerLink("remote", pc)

	answer, err := link.AcceptOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if answer.SDP == "" || link.State() != LinkAnswerSent {
		t.Fatalf("after AcceptOffer: sdp=%q state=%v", answer.SDP, link.State())
	}
}

func TestAnswerBeforeOfferRejected(t *testing.T) {
	link := newPeerLink("remote", &fakePC{})
	err := link.AcceptAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if !errors.Is(err, ErrUnexpectedState) {
		t.Fatalf("answer before offer: got %v", err)
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	pc := &fakePC{}
	link := newPeerLink("remote", pc)

	// Candidates race ahead of the offer.
	for i := 0; i < 3; i++ {
		if err := link.AddCandidate(webrtc.ICECandidateInit{Candidate: "candidate"}); err != nil {
			t.Fatalf("AddCandidate: %v", err)
		}
	}
	if got := pc.candidateCount(); got != 0 {
		t.Fatalf("candidates applied before remote description: %d", got)
	}

	if _, err := link.AcceptOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if got := pc.candidateCount(); got != 3 {
		t.Fatalf("buffered candidates lost: applied %d of 3", got)
	}

	// Later candidates go straight through.
	if err := link.AddCandidate(webrtc.ICECandidateInit{Candidate: "late"}); err != nil {
		t.Fatalf("AddCandidate after desc: %v", err)
	}
	if got := pc.candidateCount(); got != 4 {
		t.Fatalf("late candidate not applied: %d", got)
	}
}

func TestCandidatesFlushOnAnswerToo(t *testing.T) {
	pc := &fakePC{}
	link := newPeerLink("remote", pc)

	if _, err := link.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	if err := link.AddCandidate(webrtc.ICECandidateInit{Candidate: "early"}); err != nil {
		t.Fatalf("AddCandidate: %v", err)
	}
	if err := link.AcceptAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}); err != nil {
		t.Fatalf("AcceptAnswer: %v", err)
	}
	if got := pc.candidateCount(); got != 1 {
		t.Fatalf("candidate buffered across answer lost: %d", got)
	}
}

func TestCloseIsTerminalAndIdempotent(t *testing.T) {
	pc := &fakePC{}
	link := newPeerLink("remote", pc)

	link.Close()
	link.Close()
	if link.State() != LinkClosed {
		t.Fatalf("state after close: %v", link.State())
	}
	if !pc.closed {
		t.Fatal("underlying pc not closed")
	}

	if _, err := link.StartOffer(); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("StartOffer on closed link: %v", err)
	}
	if err := link.AddCandidate(webrtc.ICECandidateInit{}); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("AddCandidate on closed link: %v", err)
	}
	if _, err := link.AcceptOffer(webrtc.SessionDescription{}); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("AcceptOffer on closed link: %v", err)
	}
}
