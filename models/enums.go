package models

type DecimalPlaces string

const (
	DecimalPlacesZero  DecimalPlaces = "0"
	DecimalPlacesTwo   DecimalPlaces = "2"
	DecimalPlacesThree DecimalPlaces = "3"
)

type LgType string

const (
	LgTypeBidBond        LgType = "Bid Bond"
	LgTypePerformance    LgType = "Performance"
	LgTypeAdvancePayment LgType = "Advance Payment"
	LgTypeFinancial      LgType = "Financial"
	LgTypeRetention      LgType = "Retention"
	LgTypeCustoms        LgType = "Customs"
)

type LgStatus string

const (
	LgStatusActive    LgStatus = "Active"
	LgStatusExpired   LgStatus = "Expired"
	LgStatusReleased  LgStatus = "Released"
	LgStatusClaimed   LgStatus = "Claimed"
	LgStatusCancelled LgStatus = "Cancelled"
)

type GuaranteeRule string

const (
	GuaranteeRuleURDG758 GuaranteeRule = "URDG 758"
	GuaranteeRuleISP98   GuaranteeRule = "ISP 98"
	GuaranteeRuleLocal   GuaranteeRule = "Local Law"
	GuaranteeRuleOther   GuaranteeRule = "Other"
)

type StagingRecordStatus string

const (
	StagingStatusPending        StagingRecordStatus = "Pending"
	StagingStatusReadyForImport StagingRecordStatus = "ReadyForImport"
	StagingStatusError          StagingRecordStatus = "Error"
	StagingStatusExpired        StagingRecordStatus = "Expired"
	StagingStatusDuplicate      StagingRecordStatus = "Duplicate"
	StagingStatusNeedsReview    StagingRecordStatus = "NeedsReview"
	StagingStatusImported       StagingRecordStatus = "Imported"
)

type StagingRecordKind string

const (
	RecordKindFullRecord  StagingRecordKind = "FullRecord"
	RecordKindInstruction StagingRecordKind = "Instruction"
)
