package decode

import "errors"

// ErrCorruptAccount is returned whenever a decoded account's length or
// internal record counts do not match its fixed-layout expectations. Callers
// own the "log and drop" policy; this package never logs.
var ErrCorruptAccount = errors.New("corrupt account")
