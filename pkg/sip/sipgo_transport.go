package sip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/pion/rtp"
	"go.uber.org/zap"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/logger"
)

// dialogState tracks one established inbound dialog.
type dialogState struct {
	callID       string
	remoteRTP    *net.UDPAddr
	remoteTarget sip.Uri
	fromHeader   string // caller's From, becomes To in our BYE
	toHeader     string // our To, becomes From in our BYE
	cseq         uint32

	playMu  sync.Mutex // serializes playback per dialog
	seq     uint16
	ts      uint32
	stopped chan struct{}
}

// SipgoTransport is the production Transport. It runs the SIP listener, the
// shared RTP socket and the inbound call handlers on sipgo.
type SipgoTransport struct {
	cfg       config.SIPConfig
	ua        *sipgo.UserAgent
	client    *sipgo.Client
	server    *sipgo.Server
	rtpConn   *net.UDPConn
	events    CallEvents
	localPort int
	rtpPort   int

	mu      sync.RWMutex
	pending map[string]*dialogState // INVITE answered, awaiting ACK
	dialogs map[string]*dialogState // established, keyed by Call-ID
	byAddr  map[string]string       // remote RTP ip:port -> Call-ID
	byIP    map[string]string       // remote RTP ip -> Call-ID (symmetric RTP fallback)

	stopCh  chan struct{}
	started bool
}

func NewSipgoTransport(cfg config.SIPConfig, localPort int, events CallEvents) (*SipgoTransport, error) {
	userAgent, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.UserAgentName))
	if err != nil {
		return nil, fmt.Errorf("create UA: %w", err)
	}

	server, err := sipgo.NewServer(userAgent)
	if err != nil {
		userAgent.Close()
		return nil, fmt.Errorf("create SIP server: %w", err)
	}

	client, err := sipgo.NewClient(userAgent)
	if err != nil {
		userAgent.Close()
		return nil, fmt.Errorf("create SIP client: %w", err)
	}

	rtpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("0.0.0.0:%d", cfg.RTPPort))
	if err != nil {
		userAgent.Close()
		return nil, fmt.Errorf("resolve RTP address: %w", err)
	}
	rtpConn, err := net.ListenUDP("udp", rtpAddr)
	if err != nil {
		userAgent.Close()
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("rtp port %d: %w", cfg.RTPPort, ErrPortInUse)
		}
		return nil, fmt.Errorf("bind RTP socket: %w", err)
	}

	return &SipgoTransport{
		cfg:       cfg,
		ua:        userAgent,
		client:    client,
		server:    server,
		rtpConn:   rtpConn,
		events:    events,
		localPort: localPort,
		rtpPort:   cfg.RTPPort,
		pending:   make(map[string]*dialogState),
		dialogs:   make(map[string]*dialogState),
		byAddr:    make(map[string]string),
		byIP:      make(map[string]string),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start registers the method handlers and brings up the SIP listener and the
// RTP read loop. A port conflict on the listener surfaces as ErrPortInUse.
func (t *SipgoTransport) Start(ctx context.Context) error {
	t.server.OnInvite(t.onInvite)
	t.server.OnAck(t.onAck)
	t.server.OnBye(t.onBye)
	t.server.OnCancel(t.onCancel)
	t.server.OnOptions(t.onOptions)

	errCh := make(chan error, 1)
	go func() {
		err := t.server.ListenAndServe(ctx, "udp", fmt.Sprintf("0.0.0.0:%d", t.localPort))
		if err != nil {
			if errors.Is(err, syscall.EADDRINUSE) {
				err = fmt.Errorf("sip port %d: %w", t.localPort, ErrPortInUse)
			}
			errCh <- err
		}
	}()

	// give the listener a moment to fail fast on bind errors
	select {
	case err := <-errCh:
		return err
	case <-time.After(200 * time.Millisecond):
	}

	t.mu.Lock()
	t.started = true
	t.mu.Unlock()

	go t.readRTPLoop()

	logger.Info("SIP transport started",
		zap.Int("sip_port", t.localPort),
		zap.Int("rtp_port", t.rtpPort))
	return nil
}

// Register sends a REGISTER toward the PBX, answering a digest challenge if
// one comes back.
func (t *SipgoTransport) Register(ctx context.Context, expiry time.Duration) error {
	return t.sendRegister(ctx, int(expiry.Seconds()))
}

// Unregister removes the binding with an Expires: 0 REGISTER.
func (t *SipgoTransport) Unregister(ctx context.Context) error {
	return t.sendRegister(ctx, 0)
}

func (t *SipgoTransport) sendRegister(ctx context.Context, expiry int) error {
	recipientStr := fmt.Sprintf("sip:%s:%d", t.cfg.Domain, t.cfg.Port)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return fmt.Errorf("parsing recipient uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetTransport("UDP")

	aor := fmt.Sprintf("<sip:%s@%s>", t.cfg.Username, t.cfg.Domain)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))
	req.AppendHeader(sip.NewHeader("Contact",
		fmt.Sprintf("<sip:%s@%s:%d>", t.cfg.Username, t.ua.Hostname(), t.localPort)))
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", expiry)))

	tx, err := t.client.TransactionRequest(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return fmt.Errorf("sending register: %w", err)
	}
	res, err := getResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return fmt.Errorf("waiting for register response: %w", err)
	}

	if res.StatusCode == 401 || res.StatusCode == 407 {
		authHeader := "WWW-Authenticate"
		authzHeader := "Authorization"
		if res.StatusCode == 407 {
			authHeader = "Proxy-Authenticate"
			authzHeader = "Proxy-Authorization"
		}

		wwwAuth := res.GetHeader(authHeader)
		if wwwAuth == nil {
			return fmt.Errorf("received %d but no %s header", res.StatusCode, authHeader)
		}
		chal, err := digest.ParseChallenge(wwwAuth.Value())
		if err != nil {
			return fmt.Errorf("parsing auth challenge: %w", err)
		}
		cred, err := digest.Digest(chal, digest.Options{
			Method:   req.Method.String(),
			URI:      recipientStr,
			Username: t.cfg.Username,
			Password: t.cfg.Password,
		})
		if err != nil {
			return fmt.Errorf("computing digest: %w", err)
		}

		authReq := req.Clone()
		authReq.RemoveHeader("Via")
		authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

		tx2, err := t.client.TransactionRequest(ctx, authReq,
			sipgo.ClientRequestIncreaseCSEQ,
			sipgo.ClientRequestAddVia,
		)
		if err != nil {
			return fmt.Errorf("sending authenticated register: %w", err)
		}
		res, err = getResponse(ctx, tx2)
		tx2.Terminate()
		if err != nil {
			return fmt.Errorf("waiting for authenticated register response: %w", err)
		}
	}

	if res.StatusCode != 200 {
		return fmt.Errorf("register failed with status %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

// getResponse waits for the final response on a client transaction.
func getResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return nil, fmt.Errorf("transaction closed")
			}
			if res.IsProvisional() {
				continue
			}
			return res, nil
		case <-tx.Done():
			return nil, fmt.Errorf("transaction terminated")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *SipgoTransport) LocalPort() int {
	return t.localPort
}

func (t *SipgoTransport) Close() error {
	close(t.stopCh)
	t.server.Close()
	t.rtpConn.Close()
	t.client.Close()
	t.ua.Close()
	logger.Info("SIP transport closed")
	return nil
}

func (t *SipgoTransport) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	logger.Info("received INVITE",
		zap.String("call_id", callID),
		zap.String("start_line", req.StartLine()))

	remoteRTPAddr, err := ParseRemoteRTPAddr(req.Body())
	if err != nil {
		logger.Error("failed to parse SDP offer", zap.Error(err))
		tx.Respond(sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Internal Server Error", nil))
		return
	}

	serverIP := getServerIPFromRequest(req)
	answer, err := BuildAnswerSDP(serverIP, t.rtpPort)
	if err != nil {
		logger.Error("failed to build SDP answer", zap.Error(err))
		tx.Respond(sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Internal Server Error", nil))
		return
	}

	// 180 first so the caller hears ringing while we set up
	tx.Respond(sip.NewResponseFromRequest(req, 180, "Ringing", nil))

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	cl := sip.ContentLengthHeader(len(answer))
	res.AppendHeader(&cl)
	contentType := sip.ContentTypeHeader("application/sdp")
	res.AppendHeader(&contentType)
	res.AppendHeader(&sip.ContactHeader{
		Address: sip.Uri{Host: serverIP, Port: t.localPort},
	})

	if err := tx.Respond(res); err != nil {
		logger.Error("failed to send 200 OK", zap.Error(err))
		return
	}

	var callerID string
	if from := req.From(); from != nil {
		callerID = from.Address.User
	}

	state := &dialogState{
		callID:  callID,
		cseq:    req.CSeq().SeqNo,
		stopped: make(chan struct{}),
	}
	if from := req.From(); from != nil {
		state.fromHeader = from.Value()
	}
	if to := res.To(); to != nil {
		state.toHeader = to.Value()
	}
	if contact := req.GetHeader("Contact"); contact != nil {
		var target sip.Uri
		val := strings.Trim(contact.Value(), "<>")
		if err := sip.ParseUri(val, &target); err == nil {
			state.remoteTarget = target
		}
	}
	if addr, err := net.ResolveUDPAddr("udp", remoteRTPAddr); err == nil {
		state.remoteRTP = addr
	}

	if !t.storePending(state) {
		close(state.stopped)
		logger.Warn("retransmitted INVITE ignored, dialog already tracked",
			zap.String("call_id", callID))
		return
	}

	t.events.OnInboundCall(InboundCall{
		CallID:        callID,
		CallerID:      callerID,
		RemoteRTPAddr: remoteRTPAddr,
		CodecRate:     8000,
	})
}

// storePending records a freshly answered INVITE awaiting its ACK. Returns
// false when the Call-ID is already tracked, so a retransmitted INVITE can
// never replace live dialog state.
func (t *SipgoTransport) storePending(state *dialogState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[state.callID]; ok {
		return false
	}
	if _, ok := t.dialogs[state.callID]; ok {
		return false
	}
	t.pending[state.callID] = state
	return true
}

func (t *SipgoTransport) onAck(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()

	t.mu.Lock()
	state, ok := t.pending[callID]
	if !ok {
		t.mu.Unlock()
		logger.Warn("ACK without pending dialog", zap.String("call_id", callID))
		return
	}
	delete(t.pending, callID)
	t.dialogs[callID] = state
	if state.remoteRTP != nil {
		t.byAddr[state.remoteRTP.String()] = callID
		t.byIP[state.remoteRTP.IP.String()] = callID
	}
	t.mu.Unlock()

	logger.Info("dialog established",
		zap.String("call_id", callID),
		zap.String("remote_rtp", state.remoteRTP.String()))

	t.events.OnCallAnswered(callID)
}

func (t *SipgoTransport) onBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	logger.Info("received BYE", zap.String("call_id", callID))

	t.removeDialog(callID)

	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)); err != nil {
		logger.Error("failed to send BYE response", zap.Error(err))
	}

	t.events.OnCallEnd(callID)
}

func (t *SipgoTransport) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	logger.Info("received CANCEL", zap.String("call_id", callID))

	t.removeDialog(callID)

	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)); err != nil {
		logger.Error("failed to send CANCEL response", zap.Error(err))
	}

	t.events.OnCallEnd(callID)
}

func (t *SipgoTransport) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS"))
	tx.Respond(res)
}

// Hangup ends a dialog from our side with an in-dialog BYE.
func (t *SipgoTransport) Hangup(ctx context.Context, callID string) error {
	t.mu.RLock()
	state, ok := t.dialogs[callID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no dialog for call %s", callID)
	}

	t.removeDialog(callID)

	if state.remoteTarget.Host == "" {
		t.events.OnCallEnd(callID)
		return fmt.Errorf("no remote target for call %s, cleaned up locally", callID)
	}

	bye := sip.NewRequest(sip.BYE, state.remoteTarget)
	bye.SetTransport("UDP")
	// headers mirror the dialog: our To from the 200 OK becomes From
	bye.AppendHeader(sip.NewHeader("From", state.toHeader))
	bye.AppendHeader(sip.NewHeader("To", state.fromHeader))
	bye.AppendHeader(sip.NewHeader("Call-ID", callID))
	bye.AppendHeader(sip.NewHeader("CSeq", fmt.Sprintf("%d BYE", state.cseq+1)))

	tx, err := t.client.TransactionRequest(ctx, bye, sipgo.ClientRequestBuild)
	if err != nil {
		t.events.OnCallEnd(callID)
		return fmt.Errorf("sending BYE: %w", err)
	}
	res, err := getResponse(ctx, tx)
	tx.Terminate()
	if err == nil && res.StatusCode != 200 {
		logger.Warn("BYE not accepted",
			zap.String("call_id", callID),
			zap.Int("status", int(res.StatusCode)))
	}

	t.events.OnCallEnd(callID)
	return nil
}

func (t *SipgoTransport) removeDialog(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.pending[callID]; ok {
		close(state.stopped)
		delete(t.pending, callID)
	}
	if state, ok := t.dialogs[callID]; ok {
		close(state.stopped)
		delete(t.dialogs, callID)
		if state.remoteRTP != nil {
			delete(t.byAddr, state.remoteRTP.String())
			delete(t.byIP, state.remoteRTP.IP.String())
		}
	}
}

// readRTPLoop reads the shared RTP socket and routes decoded audio to the
// owning call. Packets are matched by full remote address first, then by IP
// for endpoints that send from a different port than they advertised.
func (t *SipgoTransport) readRTPLoop() {
	buffer := make([]byte, 1500)
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		t.rtpConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, receivedAddr, err := t.rtpConn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-t.stopCh:
				return
			default:
			}
			logger.Error("failed to read RTP data", zap.Error(err))
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buffer[:n]); err != nil {
			logger.Debug("failed to parse RTP packet", zap.Error(err))
			continue
		}
		if packet.PayloadType != 0 { // PCMU only
			continue
		}

		t.mu.RLock()
		callID, ok := t.byAddr[receivedAddr.String()]
		if !ok {
			callID, ok = t.byIP[receivedAddr.IP.String()]
		}
		t.mu.RUnlock()
		if !ok {
			continue
		}

		t.events.OnAudioChunk(callID, audio.DecodeMulaw(packet.Payload))
	}
}

// PlayWAV streams a WAV file to the caller as paced PCMU RTP. The file is
// downmixed and resampled to the 8 kHz channel rate first. Blocks until the
// audio has been sent or the dialog ends.
func (t *SipgoTransport) PlayWAV(ctx context.Context, callID, path string) error {
	t.mu.RLock()
	state, ok := t.dialogs[callID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no dialog for call %s", callID)
	}
	if state.remoteRTP == nil {
		return fmt.Errorf("no remote RTP address for call %s", callID)
	}

	samples, rate, channels, err := audio.LoadWAV(path)
	if err != nil {
		return fmt.Errorf("load playback file: %w", err)
	}
	samples = audio.DownmixMono(samples, channels)
	samples = audio.Resample(samples, rate, 8000)

	state.playMu.Lock()
	defer state.playMu.Unlock()

	const samplesPerPacket = 160 // 20ms at 8kHz
	ssrc := uint32(0x4C43) + uint32(t.rtpPort)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; i < len(samples); i += samplesPerPacket {
		end := i + samplesPerPacket
		if end > len(samples) {
			end = len(samples)
		}

		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    0, // PCMU
				SequenceNumber: state.seq,
				Timestamp:      state.ts,
				SSRC:           ssrc,
			},
			Payload: audio.EncodeMulaw(samples[i:end]),
		}
		data, err := packet.Marshal()
		if err != nil {
			logger.Error("failed to marshal RTP packet", zap.Error(err))
			continue
		}
		if _, err := t.rtpConn.WriteToUDP(data, state.remoteRTP); err != nil {
			return fmt.Errorf("send RTP packet: %w", err)
		}

		state.seq++
		state.ts += uint32(end - i)

		select {
		case <-ticker.C:
		case <-state.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logger.Debug("playback completed",
		zap.String("call_id", callID),
		zap.Int("samples", len(samples)))
	return nil
}

// getServerIPFromRequest picks the local IP to advertise in SDP, preferring
// the interface that routes toward the caller.
func getServerIPFromRequest(req *sip.Request) string {
	dest := req.Source()
	if host, _, err := net.SplitHostPort(dest); err == nil {
		dest = host
	}
	if dest != "" {
		conn, err := net.Dial("udp", net.JoinHostPort(dest, "5060"))
		if err == nil {
			local := conn.LocalAddr().(*net.UDPAddr).IP.String()
			conn.Close()
			return local
		}
	}
	return "127.0.0.1"
}
