package wire

// Postgres built-in type OIDs relevant to decoding. Anything not
// listed here falls through to the Bytes fallback per the table-row
// and CDC decoding contracts.
const (
	oidBool      uint32 = 16
	oidBytea     uint32 = 17
	oidChar      uint32 = 18
	oidName      uint32 = 19
	oidInt8      uint32 = 20
	oidInt2      uint32 = 21
	oidInt4      uint32 = 23
	oidText      uint32 = 25
	oidJSON      uint32 = 114
	oidFloat4    uint32 = 700
	oidFloat8    uint32 = 701
	oidBPChar    uint32 = 1042
	oidVarchar   uint32 = 1043
	oidDate      uint32 = 1082
	oidTime      uint32 = 1083
	oidTimestamp uint32 = 1114
	oidTimestampTZ uint32 = 1184
	oidNumeric   uint32 = 1700
	oidUUID      uint32 = 2950
	oidJSONB     uint32 = 3802

	oidBoolArray      uint32 = 1000
	oidByteaArray     uint32 = 1001
	oidInt2Array      uint32 = 1005
	oidInt4Array      uint32 = 1007
	oidTextArray      uint32 = 1009
	oidVarcharArray   uint32 = 1015
	oidInt8Array      uint32 = 1016
	oidDateArray      uint32 = 1182
	oidTimeArray      uint32 = 1183
	oidTimestampArray uint32 = 1115
	oidTimestampTZArray uint32 = 1185
	oidJSONArray      uint32 = 199
	oidNumericArray   uint32 = 1231
	oidUUIDArray      uint32 = 2951
	oidFloat4Array    uint32 = 1021
	oidFloat8Array    uint32 = 1022
	oidJSONBArray     uint32 = 3807
)

func isTextFamily(oid uint32) bool {
	switch oid {
	case oidChar, oidBPChar, oidVarchar, oidName, oidText:
		return true
	}
	return false
}

func arrayElementOID(oid uint32) (uint32, bool) {
	switch oid {
	case oidBoolArray:
		return oidBool, true
	case oidByteaArray:
		return oidBytea, true
	case oidInt2Array:
		return oidInt2, true
	case oidInt4Array:
		return oidInt4, true
	case oidInt8Array:
		return oidInt8, true
	case oidTextArray:
		return oidText, true
	case oidVarcharArray:
		return oidVarchar, true
	case oidDateArray:
		return oidDate, true
	case oidTimeArray:
		return oidTime, true
	case oidTimestampArray:
		return oidTimestamp, true
	case oidTimestampTZArray:
		return oidTimestampTZ, true
	case oidJSONArray:
		return oidJSON, true
	case oidJSONBArray:
		return oidJSONB, true
	case oidNumericArray:
		return oidNumeric, true
	case oidUUIDArray:
		return oidUUID, true
	case oidFloat4Array:
		return oidFloat4, true
	case oidFloat8Array:
		return oidFloat8, true
	}
	return 0, false
}
