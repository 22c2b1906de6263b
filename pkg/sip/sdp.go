package sip

import (
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
)

// BuildAnswerSDP produces the 200 OK session description offering a single
// PCMU/8000 audio stream on our RTP port.
func BuildAnswerSDP(serverIP string, rtpPort int) ([]byte, error) {
	sessionID := uint64(time.Now().Unix())
	desc := sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: serverIP,
		},
		SessionName: "LingCall",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: serverIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: rtpPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"0"},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "0 PCMU/8000"},
					{Key: "sendrecv"},
				},
			},
		},
	}
	return desc.Marshal()
}

// ParseRemoteRTPAddr extracts the caller's RTP endpoint from an SDP offer.
func ParseRemoteRTPAddr(body []byte) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return "", fmt.Errorf("parse SDP: %w", err)
	}

	var audio *sdp.MediaDescription
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			audio = m
			break
		}
	}
	if audio == nil {
		return "", fmt.Errorf("SDP offer has no audio media")
	}

	addr := ""
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		addr = audio.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}
	if addr == "" {
		return "", fmt.Errorf("SDP offer has no connection address")
	}
	return fmt.Sprintf("%s:%d", addr, audio.MediaName.Port.Value), nil
}
