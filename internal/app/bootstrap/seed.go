package bootstrap

import (
	"fmt"
	"os"
	"strings"

	amendmentmemory "escrowline/contexts/deal-governance/amendment-service/adapters/memory"
	amendmententities "escrowline/contexts/deal-governance/amendment-service/domain/entities"
	authoritymemory "escrowline/contexts/deal-governance/authority-service/adapters/memory"
	authorityentities "escrowline/contexts/deal-governance/authority-service/domain/entities"
	invitationmemory "escrowline/contexts/deal-governance/invitation-service/adapters/memory"
	invitationentities "escrowline/contexts/deal-governance/invitation-service/domain/entities"

	"gopkg.in/yaml.v3"
)

// Seed is the fixture set loaded into the in-memory stores from SEED_FILE.
// Postgres deployments own their rows and ignore it.
type Seed struct {
	Actors []SeedActor `yaml:"actors"`
	Deals  []SeedDeal  `yaml:"deals"`
}

type SeedActor struct {
	ActorID     string `yaml:"actor_id"`
	Role        string `yaml:"role"`
	DisplayName string `yaml:"display_name"`
}

type SeedDeal struct {
	DealID  string      `yaml:"deal_id"`
	Status  string      `yaml:"status"`
	Parties []SeedParty `yaml:"parties"`
}

// SeedParty carries its invitation token so the invitation routes can be
// exercised. Status defaults to PENDING.
type SeedParty struct {
	PartyID          string `yaml:"party_id"`
	Role             string `yaml:"role"`
	Email            string `yaml:"email"`
	InvitationToken  string `yaml:"invitation_token"`
	InvitationStatus string `yaml:"invitation_status"`
}

func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file %q: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed file %q: %w", path, err)
	}
	if err := seed.normalize(); err != nil {
		return Seed{}, fmt.Errorf("seed file %q: %w", path, err)
	}
	return seed, nil
}

func (s *Seed) normalize() error {
	for i := range s.Actors {
		actor := &s.Actors[i]
		actor.ActorID = strings.TrimSpace(actor.ActorID)
		actor.Role = strings.ToUpper(strings.TrimSpace(actor.Role))
		if actor.ActorID == "" {
			return fmt.Errorf("actor %d has no actor_id", i)
		}
		if !authorityentities.Role(actor.Role).Valid() {
			return fmt.Errorf("actor %s has unknown role %q", actor.ActorID, actor.Role)
		}
	}

	tokens := make(map[string]string)
	for i := range s.Deals {
		deal := &s.Deals[i]
		deal.DealID = strings.TrimSpace(deal.DealID)
		deal.Status = strings.ToUpper(strings.TrimSpace(deal.Status))
		if deal.DealID == "" {
			return fmt.Errorf("deal %d has no deal_id", i)
		}
		if deal.Status == "" {
			deal.Status = string(invitationentities.DealPending)
		}
		for j := range deal.Parties {
			party := &deal.Parties[j]
			party.PartyID = strings.TrimSpace(party.PartyID)
			party.InvitationToken = strings.TrimSpace(party.InvitationToken)
			party.InvitationStatus = strings.ToUpper(strings.TrimSpace(party.InvitationStatus))
			if party.PartyID == "" {
				return fmt.Errorf("deal %s party %d has no party_id", deal.DealID, j)
			}
			if party.InvitationStatus == "" {
				party.InvitationStatus = string(invitationentities.InvitationPending)
			}
			if !amendmententities.InvitationStatus(party.InvitationStatus).Valid() {
				return fmt.Errorf("deal %s party %s has unknown invitation_status %q", deal.DealID, party.PartyID, party.InvitationStatus)
			}
			if party.InvitationToken == "" {
				party.InvitationToken = deal.DealID + ":" + party.PartyID
			}
			if owner, ok := tokens[party.InvitationToken]; ok {
				return fmt.Errorf("invitation token %q is used by %s and %s", party.InvitationToken, owner, party.PartyID)
			}
			tokens[party.InvitationToken] = party.PartyID
		}
	}
	return nil
}

// apply loads the fixtures into each service's store. Actors go to the
// authority store. Deals with their parties go to both the amendment and the
// invitation store.
func (s Seed) apply(
	authorityStore *authoritymemory.Store,
	amendmentStore *amendmentmemory.Store,
	invitationStore *invitationmemory.Store,
) {
	for _, actor := range s.Actors {
		authorityStore.SeedActor(authorityentities.Actor{
			ActorID:     actor.ActorID,
			Role:        authorityentities.Role(actor.Role),
			DisplayName: strings.TrimSpace(actor.DisplayName),
		})
	}
	for _, deal := range s.Deals {
		amendmentParties := make([]amendmententities.Party, 0, len(deal.Parties))
		invitationParties := make([]invitationentities.Party, 0, len(deal.Parties))
		for _, party := range deal.Parties {
			amendmentParties = append(amendmentParties, amendmententities.Party{
				PartyID:          party.PartyID,
				InvitationStatus: amendmententities.InvitationStatus(party.InvitationStatus),
			})
			invitationParties = append(invitationParties, invitationentities.Party{
				PartyID:          party.PartyID,
				Role:             strings.TrimSpace(party.Role),
				Email:            strings.TrimSpace(party.Email),
				InvitationStatus: invitationentities.InvitationStatus(party.InvitationStatus),
				InvitationToken:  party.InvitationToken,
			})
		}
		amendmentStore.SeedDeal(amendmententities.Deal{DealID: deal.DealID, Status: deal.Status}, amendmentParties...)
		invitationStore.SeedDeal(invitationentities.Deal{DealID: deal.DealID, Status: invitationentities.DealStatus(deal.Status)}, invitationParties...)
	}
}
