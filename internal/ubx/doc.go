package ubx

// Package ubx implements the small slice of the u-blox UBX binary protocol
// needed for assistance (AssistNow/MGA) feeding:
// - frame encode/split with the 8-bit Fletcher checksum
// - stream scanning for the serial read loop
// - payload decoders for MON-VER and MGA-ACK
//
// Byte layouts here are bit-exact contracts with the receiver firmware;
// do not "clean them up".
