package policy

// quoteFee prices a coverage request. The premium starts at one
// percent of the cap and is scaled by three multipliers, each
// expressed in percent: the regional risk score, the forecast
// uncertainty and the coverage duration. Integer arithmetic
// throughout; the three multipliers are recombined with a single
// divide so rounding happens once, at the end.
func quoteFee(capAmount, riskScore, uncertainty, durationDays, minFee int64) int64 {
	base := capAmount / 100
	risk := 100 + riskScore/2
	unc := 100 + uncertainty
	dur := 100 + durationDays/2
	fee := base * risk * unc * dur / 1_000_000
	if fee < minFee {
		fee = minFee
	}
	return fee
}
