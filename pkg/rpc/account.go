package rpc

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// AccountBaker is present when the account runs a baker.
type AccountBaker struct {
	StakedAmount    decimal.Decimal `json:"stakedAmount"`
	RestakeEarnings bool            `json:"restakeEarnings"`
	BakerID         uint64          `json:"bakerId"`
}

// AccountInfo is the response of /v1/accountInfo.
type AccountInfo struct {
	AccountAddress string          `json:"accountAddress"`
	AccountNonce   uint64          `json:"accountNonce"`
	AccountAmount  decimal.Decimal `json:"accountAmount"`
	AccountIndex   uint64          `json:"accountIndex"`
	AccountBaker   *AccountBaker   `json:"accountBaker"`
}

// Staked returns the staked amount, zero for accounts without a baker.
func (a *AccountInfo) Staked() decimal.Decimal {
	if a.AccountBaker == nil {
		return decimal.Zero
	}
	return a.AccountBaker.StakedAmount
}

// Available is the balance minus the stake.
func (a *AccountInfo) Available() decimal.Decimal {
	return a.AccountAmount.Sub(a.Staked())
}

// AccountInfo returns the balance and stake of address as of blockHash.
func (c *HTTPClient) AccountInfo(ctx context.Context, blockHash, address string) (*AccountInfo, error) {
	var out AccountInfo
	payload := map[string]string{"blockHash": blockHash, "address": address}
	if err := c.doJSON(ctx, http.MethodPost, accountInfoPath, payload, &out); err != nil {
		return nil, err
	}
	if out.AccountAmount.IsNegative() || out.Staked().GreaterThan(out.AccountAmount) {
		return nil, malformed(accountInfoPath, "stake exceeds balance for %s", address)
	}
	return &out, nil
}

// BirkBaker is one entry of the baking committee.
type BirkBaker struct {
	BakerAccount      string          `json:"bakerAccount"`
	BakerID           uint64          `json:"bakerId"`
	BakerLotteryPower decimal.Decimal `json:"bakerLotteryPower"`
}

// BirkParameters is the response of /v1/birkParameters.
type BirkParameters struct {
	ElectionDifficulty decimal.Decimal `json:"electionDifficulty"`
	Bakers             []BirkBaker     `json:"bakers"`
}

// LotteryPower returns the lottery power of the baker run by address, zero if it is not in the committee.
func (b *BirkParameters) LotteryPower(address string) (decimal.Decimal, bool) {
	for _, baker := range b.Bakers {
		if baker.BakerAccount == address {
			return baker.BakerLotteryPower, true
		}
	}
	return decimal.Zero, false
}

// BirkParameters returns the baking committee as of blockHash.
func (c *HTTPClient) BirkParameters(ctx context.Context, blockHash string) (*BirkParameters, error) {
	var out BirkParameters
	if err := c.doJSON(ctx, http.MethodPost, birkParametersPath, map[string]string{"blockHash": blockHash}, &out); err != nil {
		return nil, err
	}
	if out.Bakers == nil {
		return nil, malformed(birkParametersPath, "missing bakers for %s", blockHash)
	}
	return &out, nil
}
