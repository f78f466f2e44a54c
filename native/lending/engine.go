package lending

import (
	"errors"
	"math/big"
	"strconv"

	"coopchain/core/events"
	"coopchain/core/types"
	"coopchain/crypto"
	"coopchain/native/bank"
	"coopchain/native/coop"
)

var (
	errNilState       = errors.New("lending: state not configured")
	errNilQuerier     = errors.New("lending: bank querier not configured")
	errNotInitialised = errors.New("lending: protocol state not initialised")
)

type lendingState interface {
	ProtocolState() (*types.ProtocolState, bool, error)
	PutProtocolState(state *types.ProtocolState) error
	GetCooperative(name string) (*types.Cooperative, bool, error)
	PutCooperative(record *types.Cooperative) error
	GetPrice(assetID uint64) (*types.Price, bool, error)
}

// Engine issues and settles collateralized loans against a cooperative's
// pooled funds. Collateral is priced in USD through the oracle quotes and
// locked by debiting the borrower's contributions at issuance time.
type Engine struct {
	state   lendingState
	querier bank.Querier
	custody crypto.Address
	emitter events.Emitter
}

// NewEngine constructs a lending engine bound to the protocol custodial
// address.
func NewEngine(custody crypto.Address) *Engine {
	return &Engine{
		custody: custody,
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state lendingState) { e.state = state }

// SetQuerier wires the engine to the external asset system's balance view.
func (e *Engine) SetQuerier(q bank.Querier) { e.querier = q }

// SetEmitter configures the event emitter. Nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// roundRateToPercent rounds a basis-point rate up to the next whole
// percentage, matching how issued rates are quoted.
func roundRateToPercent(bps uint64) uint64 {
	return (bps + 99) / 100 * 100
}

func (e *Engine) priceFor(assetID uint64) (*big.Int, error) {
	quote, ok, err := e.state.GetPrice(assetID)
	if err != nil {
		return nil, err
	}
	if !ok || quote.USDPrice == nil || quote.USDPrice.Sign() <= 0 {
		return nil, coop.ErrInvalidToken
	}
	return quote.USDPrice, nil
}

// Borrow locks the listed collateral out of the caller's contributions and
// issues a loan in the requested asset. The borrowable value is the USD
// collateral value scaled by the cooperative's collateralization ratio; the
// resulting amount must clear minAmountOut or the whole transition aborts.
func (e *Engine) Borrow(name string, caller crypto.Address, assetOut string, collateralRefs []string, collateralAmounts []*big.Int, minAmountOut *big.Int) ([]bank.Instruction, *types.Loan, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if len(collateralRefs) == 0 || len(collateralRefs) != len(collateralAmounts) {
		return nil, nil, coop.ErrInvalidInput
	}

	record, ok, err := e.state.GetCooperative(name)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, coop.ErrCooperativeNotFound
	}

	memberIdx := record.MemberIndex(caller.String())
	if memberIdx < 0 {
		return nil, nil, coop.ErrMemberNotFound
	}
	member := &record.Members[memberIdx]

	outIdx := record.TokenByReference(assetOut)
	if outIdx < 0 {
		return nil, nil, coop.ErrInvalidToken
	}
	outToken := record.WhitelistedTokens[outIdx]

	// Value and lock each collateral entry. Contributions are debited as we
	// go, so the same balance cannot back two entries of the request.
	collateralValue := big.NewInt(0)
	lockedIDs := make([]uint64, 0, len(collateralRefs))
	lockedAmounts := make([]*big.Int, 0, len(collateralRefs))
	for i, ref := range collateralRefs {
		amount := collateralAmounts[i]
		if amount == nil || amount.Sign() <= 0 {
			return nil, nil, coop.ErrInvalidInput
		}
		tokenIdx := record.TokenByReference(ref)
		if tokenIdx < 0 {
			return nil, nil, coop.ErrInvalidToken
		}
		token := record.WhitelistedTokens[tokenIdx]

		contributionIdx := member.ContributionFor(token.AssetID)
		if contributionIdx < 0 {
			return nil, nil, coop.ErrNoContribution
		}
		held := member.Contribution[contributionIdx].Amount
		if held == nil || held.Cmp(amount) < 0 {
			return nil, nil, coop.ErrInsufficientFunds
		}
		member.Contribution[contributionIdx].Amount = new(big.Int).Sub(held, amount)

		price, err := e.priceFor(token.AssetID)
		if err != nil {
			return nil, nil, err
		}
		collateralValue.Add(collateralValue, new(big.Int).Mul(amount, price))

		lockedIDs = append(lockedIDs, token.AssetID)
		lockedAmounts = append(lockedAmounts, new(big.Int).Set(amount))
	}

	ratio := new(big.Int).SetUint64(record.RiskProfile.CollateralizationRatioBps)
	loanValue := new(big.Int).Mul(collateralValue, ratio)
	loanValue.Quo(loanValue, big.NewInt(types.BasisPoints))

	outPrice, err := e.priceFor(outToken.AssetID)
	if err != nil {
		return nil, nil, err
	}
	amountOut := new(big.Int).Quo(loanValue, outPrice)
	if amountOut.Sign() <= 0 {
		return nil, nil, coop.ErrInsufficientCollateral
	}
	if minAmountOut != nil && amountOut.Cmp(minAmountOut) < 0 {
		return nil, nil, coop.ErrInsufficientCollateral
	}

	// The custodial account must actually hold the payout on top of the
	// bookkeeping check below.
	if outToken.IsNative {
		if e.querier == nil {
			return nil, nil, errNilQuerier
		}
		held, err := e.querier.NativeBalance(outToken.Denom, e.custody)
		if err != nil {
			return nil, nil, err
		}
		if held == nil || held.Cmp(amountOut) < 0 {
			return nil, nil, coop.ErrInsufficientPoolFunds
		}
	}

	fundsIdx := record.FundsFor(outToken.AssetID)
	if fundsIdx < 0 || record.TotalFunds[fundsIdx].Amount == nil || record.TotalFunds[fundsIdx].Amount.Cmp(amountOut) < 0 {
		return nil, nil, coop.ErrInsufficientPoolFunds
	}
	record.TotalFunds[fundsIdx].Amount = new(big.Int).Sub(record.TotalFunds[fundsIdx].Amount, amountOut)

	protocol, ok, err := e.state.ProtocolState()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errNotInitialised
	}
	protocol.CurrentLoanID++
	protocol.DebitPooledFunds(outToken.AssetID, amountOut)

	loan := types.Loan{
		ID:                protocol.CurrentLoanID,
		Amount:            new(big.Int).Set(amountOut),
		AssetID:           outToken.AssetID,
		Collaterals:       lockedIDs,
		CollateralAmounts: lockedAmounts,
		InterestRateBps:   roundRateToPercent(record.RiskProfile.InterestRateBps),
		Status:            types.LoanStatusActive,
	}
	member.Loans = append(member.Loans, loan)

	if err := e.state.PutCooperative(record); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutProtocolState(protocol); err != nil {
		return nil, nil, err
	}

	var instructions []bank.Instruction
	if outToken.IsNative {
		instructions = append(instructions, bank.NativeSend(outToken.Denom, e.custody, caller, amountOut))
	} else {
		instructions = append(instructions, bank.TokenTransfer(outToken.ContractAddr, e.custody, caller, amountOut))
	}

	e.emit(events.New(events.TypeLoanIssued,
		"cooperative", record.Name,
		"member", caller.String(),
		"loan_id", strconv.FormatUint(loan.ID, 10),
		"asset", assetOut,
		"amount", amountOut.String(),
	))
	return instructions, &loan, nil
}

// Repay settles the caller's active loan in the asset. The payment must
// equal the outstanding principal exactly; on success the locked collateral
// is released back into the borrower's contributions and the loan record is
// marked repaid.
func (e *Engine) Repay(name string, caller crypto.Address, assetRef string, payment *big.Int, sentFunds []types.Coin) ([]bank.Instruction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}

	record, ok, err := e.state.GetCooperative(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coop.ErrCooperativeNotFound
	}

	memberIdx := record.MemberIndex(caller.String())
	if memberIdx < 0 {
		return nil, coop.ErrMemberNotFound
	}
	member := &record.Members[memberIdx]

	tokenIdx := record.TokenByReference(assetRef)
	if tokenIdx < 0 {
		return nil, coop.ErrInvalidToken
	}
	token := record.WhitelistedTokens[tokenIdx]

	loanIdx := member.ActiveLoanFor(token.AssetID)
	if loanIdx < 0 {
		return nil, coop.ErrNoActiveLoan
	}
	loan := &member.Loans[loanIdx]

	var instructions []bank.Instruction
	if token.IsNative {
		coin := types.FindCoin(sentFunds, token.Denom)
		if coin == nil {
			return nil, coop.ErrNoFunds
		}
		if coin.Amount == nil || coin.Amount.Cmp(loan.Amount) != 0 {
			return nil, coop.ErrInvalidFundAmount
		}
		instructions = append(instructions, bank.NativeSend(token.Denom, caller, e.custody, loan.Amount))
	} else {
		if payment == nil || payment.Cmp(loan.Amount) != 0 {
			return nil, coop.ErrInvalidFundAmount
		}
		if e.querier == nil {
			return nil, errNilQuerier
		}
		balance, err := e.querier.TokenBalance(token.ContractAddr, caller)
		if err != nil {
			return nil, err
		}
		if balance == nil || balance.Cmp(loan.Amount) < 0 {
			return nil, coop.ErrInsufficientFunds
		}
		allowance, err := e.querier.TokenAllowance(token.ContractAddr, caller, e.custody)
		if err != nil {
			return nil, err
		}
		if allowance == nil || allowance.Cmp(loan.Amount) < 0 {
			return nil, coop.ErrInsufficientFunds
		}
		instructions = append(instructions, bank.TokenTransferFrom(token.ContractAddr, caller, e.custody, loan.Amount))
	}

	if len(loan.Collaterals) != len(loan.CollateralAmounts) {
		return nil, coop.ErrInvalidCollateral
	}
	for i, assetID := range loan.Collaterals {
		amount := loan.CollateralAmounts[i]
		if amount == nil {
			return nil, coop.ErrInvalidCollateral
		}
		member.CreditContribution(assetID, amount)
	}

	loan.Status = types.LoanStatusRepaid
	record.CreditFunds(token.AssetID, loan.Amount)

	protocol, ok, err := e.state.ProtocolState()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotInitialised
	}
	protocol.CreditPooledFunds(token.AssetID, loan.Amount)

	if err := e.state.PutCooperative(record); err != nil {
		return nil, err
	}
	if err := e.state.PutProtocolState(protocol); err != nil {
		return nil, err
	}

	e.emit(events.New(events.TypeLoanRepaid,
		"cooperative", record.Name,
		"member", caller.String(),
		"loan_id", strconv.FormatUint(loan.ID, 10),
		"asset", assetRef,
		"amount", loan.Amount.String(),
	))
	return instructions, nil
}
