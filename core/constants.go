package core

// DefaultMaxBuffer is the per-peer scratch buffer size a reactor accumulates
// reads into before handing them to Handler.OnInput. A recommended range is
// 8KiB-64KiB; 32KiB sits in the middle of that range.
const DefaultMaxBuffer = 32 * 1024
