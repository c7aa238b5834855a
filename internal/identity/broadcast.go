package identity

// BroadcastMACKey is the process-wide constant MAC key used solely on
// HEARTBEAT envelopes (spec §4.6, §6, §9). Every device in the network must
// be built with the same value; it carries no per-link secrecy, the ECDSA
// signature inside the heartbeat payload is what actually proves
// authenticity. Together with BroadcastNID and auth.Timeout (set once from
// a flag at startup) it is one of the few process-wide globals in the
// design (spec §9's re-architecture notes).
var BroadcastMACKey = [32]byte{
	0x74, 0x72, 0x65, 0x65, 0x6e, 0x65, 0x74, 0x2d,
	0x62, 0x72, 0x6f, 0x61, 0x64, 0x63, 0x61, 0x73,
	0x74, 0x2d, 0x6d, 0x61, 0x63, 0x2d, 0x6b, 0x65,
	0x79, 0x2d, 0x76, 0x31, 0x00, 0x00, 0x00, 0x00,
}
