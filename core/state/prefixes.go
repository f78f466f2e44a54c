package state

var (
	protocolStateKeyBytes = []byte("protocol/state")
	cooperativePrefix     = []byte("coop/record/")
	coopNameIndexPrefix   = []byte("coop/names/")
	proposalPrefix        = []byte("gov/proposal/")
	coopProposalsPrefix   = []byte("gov/coop-proposals/")
	rewardsPoolPrefix     = []byte("rewards/pool/")
	assetIDPrefix         = []byte("asset/id/")
	pricePrefix           = []byte("oracle/price/")
	memberCoopsPrefix     = []byte("member/coops/")
)
