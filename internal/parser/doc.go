// Package parser turns hypervisor CLI output into typed records.
//
// There is one function per output category: machine-readable key=value
// listings (showvminfo, snapshot list), colon-delimited property blocks
// (list hostinfo, list ostypes, list hostonlyifs, list hdds), the `list vms`
// line format, and the JSON emitted by the Hyper-V PowerShell wrapper.
//
// Missing optional fields yield zero values and unknown fields are ignored.
// Only structurally unusable output (no VM name, undecodable JSON) is an
// error.
package parser
