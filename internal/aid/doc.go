package aid

// Package aid drives assistance (MGA) feeding for u-blox receivers:
// - Negotiator establishes readiness from MON-VER and enables aiding acks
// - Dispatcher drains queued assistance frames one at a time, gated on
//   MGA-ACK
// - BucketByDay splits an AssistNow Offline response into per-day buckets
// - EncodeTimeAssist builds the MGA-INI-TIME_UTC payload
