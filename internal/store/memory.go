package store

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kkkkikiki/voucher/internal/model"
)

// MemoryStore implements Store in process memory. A single mutex makes every
// method atomic. Useful for tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	campaigns map[int64]*model.Campaign
	vouchers  map[string]*model.Voucher
	issued    map[string]struct{}
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[int64]*model.Campaign),
		vouchers:  make(map[string]*model.Voucher),
		issued:    make(map[string]struct{}),
		now:       time.Now,
	}
}

func (s *MemoryStore) GetOrCreateCampaign(ctx context.Context, nc model.NewCampaign) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := sql.NullString{String: nc.ExternalRef, Valid: nc.ExternalRef != ""}
	refTaken := func(name string) bool {
		owner := s.byExternalRef(nc.ExternalRef)
		return ref.Valid && owner != nil && owner.Name != name
	}

	if existing := s.byName(nc.Name); existing != nil {
		if !existing.ExternalRef.Valid && ref.Valid {
			if refTaken(existing.Name) {
				return nil, ErrExternalRefTaken
			}
			existing.ExternalRef = ref
			existing.UpdatedAt = s.now()
		}
		c := *existing
		return &c, nil
	}
	if refTaken(nc.Name) {
		return nil, ErrExternalRefTaken
	}

	s.nextID++
	now := s.now()
	campaign := &model.Campaign{
		ID:          s.nextID,
		Name:        nc.Name,
		ExternalRef: ref,
		ExpiryDate:  nc.ExpiryDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.campaigns[campaign.ID] = campaign

	c := *campaign
	return &c, nil
}

func (s *MemoryStore) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	campaign, ok := s.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	c := *campaign
	return &c, nil
}

func (s *MemoryStore) FindCampaign(ctx context.Context, ref string) (*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	campaign := s.byExternalRef(ref)
	if campaign == nil {
		campaign = s.byName(ref)
	}
	if campaign == nil {
		if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
			campaign = s.campaigns[id]
		}
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	c := *campaign
	return &c, nil
}

func (s *MemoryStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	campaigns := make([]model.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		campaigns = append(campaigns, *c)
	}
	sort.Slice(campaigns, func(i, j int) bool {
		if !campaigns[i].CreatedAt.Equal(campaigns[j].CreatedAt) {
			return campaigns[i].CreatedAt.After(campaigns[j].CreatedAt)
		}
		return campaigns[i].ID > campaigns[j].ID
	})
	return campaigns, nil
}

func (s *MemoryStore) CountCampaign(ctx context.Context, id int64, now time.Time) (model.CampaignCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.campaigns[id]; !ok {
		return model.CampaignCounts{}, ErrCampaignNotFound
	}
	return s.count(id, now), nil
}

func (s *MemoryStore) RecountCampaign(ctx context.Context, id int64, now time.Time) (*model.Campaign, model.CampaignCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	campaign, ok := s.campaigns[id]
	if !ok {
		return nil, model.CampaignCounts{}, ErrCampaignNotFound
	}
	before := *campaign

	counts := s.count(id, now)
	campaign.TotalVouchers = counts.Total
	campaign.UsedVouchers = counts.Used
	campaign.AssignedVouchers = counts.Assigned
	campaign.UpdatedAt = s.now()

	return &before, counts, nil
}

func (s *MemoryStore) DeleteCampaign(ctx context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[id]; !ok {
		return 0, ErrCampaignNotFound
	}

	deleted := 0
	for code, v := range s.vouchers {
		if v.CampaignID == id {
			delete(s.vouchers, code)
			deleted++
		}
	}
	delete(s.campaigns, id)
	return deleted, nil
}

func (s *MemoryStore) CodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.issued[code]
	return ok, nil
}

func (s *MemoryStore) InsertBatch(ctx context.Context, campaignID int64, vouchers []model.Voucher) error {
	if len(vouchers) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	campaign, ok := s.campaigns[campaignID]
	if !ok {
		return ErrCampaignNotFound
	}

	// Validate the whole batch before touching anything.
	seen := make(map[string]struct{}, len(vouchers))
	for _, v := range vouchers {
		if _, dup := s.issued[v.Code]; dup {
			return ErrDuplicateCode
		}
		if _, dup := seen[v.Code]; dup {
			return ErrDuplicateCode
		}
		seen[v.Code] = struct{}{}
	}

	for _, v := range vouchers {
		v := v
		v.CampaignID = campaignID
		s.vouchers[v.Code] = &v
		s.issued[v.Code] = struct{}{}
	}
	campaign.TotalVouchers += len(vouchers)
	campaign.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) TryTransition(ctx context.Context, t model.Transition) (*model.Voucher, error) {
	if err := validateTransition(t); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	voucher, ok := s.vouchers[t.Code]
	if !ok {
		return nil, ErrVoucherNotFound
	}
	if voucher.Status != t.From {
		return nil, ErrTransitionConflict
	}
	if voucher.IsExpired(t.At) {
		return nil, ErrVoucherExpired
	}

	switch t.To {
	case model.StatusAssigned:
		if voucher.AssignedTo.Valid {
			return nil, ErrTransitionConflict
		}
		for _, other := range s.vouchers {
			if other.CampaignID == voucher.CampaignID && other.AssignedTo.Valid && other.AssignedTo.String == t.AssignedTo {
				return nil, ErrIdentityAssigned
			}
		}
		voucher.AssignedTo = sql.NullString{String: t.AssignedTo, Valid: true}
		voucher.AssignedAt = sql.NullTime{Time: t.At, Valid: true}
	case model.StatusRedeemed:
		voucher.RedeemedAt = sql.NullTime{Time: t.At, Valid: true}
	}
	voucher.Status = t.To

	if campaign, ok := s.campaigns[voucher.CampaignID]; ok {
		used, assigned := counterDelta(t)
		campaign.UsedVouchers += used
		campaign.AssignedVouchers += assigned
		campaign.UpdatedAt = s.now()
	}

	v := *voucher
	return &v, nil
}

func (s *MemoryStore) GetVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	voucher, ok := s.vouchers[code]
	if !ok {
		return nil, ErrVoucherNotFound
	}
	v := *voucher
	return &v, nil
}

func (s *MemoryStore) ListVouchers(ctx context.Context, campaignID int64) ([]model.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.campaigns[campaignID]; !ok {
		return nil, ErrCampaignNotFound
	}
	return s.sorted(func(v *model.Voucher) bool { return v.CampaignID == campaignID }, 0), nil
}

func (s *MemoryStore) FindAssignedVoucher(ctx context.Context, campaignID int64, identity string) (*model.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.vouchers {
		if v.CampaignID == campaignID && v.AssignedTo.Valid && v.AssignedTo.String == identity {
			found := *v
			return &found, nil
		}
	}
	return nil, ErrVoucherNotFound
}

func (s *MemoryStore) ListAssignable(ctx context.Context, campaignID int64, now time.Time, limit int) ([]model.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sorted(func(v *model.Voucher) bool {
		return v.CampaignID == campaignID &&
			v.Status == model.StatusIssued &&
			!v.AssignedTo.Valid &&
			!v.IsExpired(now)
	}, limit), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// sorted returns matching vouchers oldest first, ties broken by code.
// A limit of zero means no limit.
func (s *MemoryStore) sorted(match func(*model.Voucher) bool, limit int) []model.Voucher {
	out := make([]model.Voucher, 0)
	for _, v := range s.vouchers {
		if match(v) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) count(id int64, now time.Time) model.CampaignCounts {
	var counts model.CampaignCounts
	for _, v := range s.vouchers {
		if v.CampaignID != id {
			continue
		}
		counts.Total++
		if v.Status == model.StatusRedeemed {
			counts.Used++
		}
		if v.AssignedTo.Valid {
			counts.Assigned++
		}
		if v.Status == model.StatusIssued && !v.AssignedTo.Valid && !v.IsExpired(now) {
			counts.Available++
		}
		if v.Status != model.StatusRedeemed && v.IsExpired(now) {
			counts.Expired++
		}
	}
	return counts
}

func (s *MemoryStore) byName(name string) *model.Campaign {
	for _, c := range s.campaigns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (s *MemoryStore) byExternalRef(ref string) *model.Campaign {
	for _, c := range s.campaigns {
		if c.ExternalRef.Valid && c.ExternalRef.String == ref {
			return c
		}
	}
	return nil
}
