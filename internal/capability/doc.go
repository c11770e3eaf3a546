// Package capability maps gateway invoke commands to local handlers.
//
// Handlers are registered before connect, so the advertised command set is
// always dispatchable. Dispatch never surfaces a handler failure locally:
// unknown commands, policy denials and handler errors all become error
// responses carried back to the gateway, categorized as InvalidParams,
// PermissionDenied, HardwareUnavailable or Internal.
//
// The invocation policy comes from the device's capability profile, a TOML
// manifest declaring the platform tag, capability tags and a profile of
// full, restricted (allowlist) or none.
package capability
