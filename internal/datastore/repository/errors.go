package repository

import "github.com/tphakala/zonewatch/internal/errors"

// Sentinel errors returned by the repositories.
var (
	ErrRuleNotFound      = errors.NewStd("alert rule not found")
	ErrInvalidRuleStatus = errors.NewStd("invalid alert rule status")
	ErrActivityNotFound  = errors.NewStd("activity not found")
	ErrAssetNotFound     = errors.NewStd("asset not found")
	ErrDeviceNotAssigned = errors.NewStd("asset has no device assigned")
	ErrUnknownOriginKind = errors.NewStd("unknown origin entity kind")
)
