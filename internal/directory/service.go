package directory

import (
	"context"
	"net/url"
	"strconv"

	"github.com/minyanly/dirclient/internal/client"
)

// Service is the typed facade over the resilient client.
type Service struct {
	c *client.Client
}

// NewService wraps a client.
func NewService(c *client.Client) *Service {
	return &Service{c: c}
}

func (p ListParams) query() url.Values {
	q := url.Values{}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.City != "" {
		q.Set("city", p.City)
	}
	if p.Tag != "" {
		q.Set("tag", p.Tag)
	}
	if p.Search != "" {
		q.Set("q", p.Search)
	}
	return q
}

func list[T any](ctx context.Context, s *Service, endpoint string, p ListParams) (*Page[T], error) {
	var page Page[T]
	if err := s.c.GetJSON(ctx, endpoint, p.query(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func get[T any](ctx context.Context, s *Service, endpoint string) (*T, error) {
	var out T
	if err := s.c.GetJSON(ctx, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func create[T any](ctx context.Context, s *Service, endpoint string, in *T) (*T, error) {
	resp, err := s.c.Post(ctx, endpoint, in)
	if err != nil {
		return nil, err
	}
	var out T
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func update[T any](ctx context.Context, s *Service, endpoint string, in *T) (*T, error) {
	resp, err := s.c.Put(ctx, endpoint, in)
	if err != nil {
		return nil, err
	}
	var out T
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRestaurants fetches a page of restaurants.
func (s *Service) ListRestaurants(ctx context.Context, p ListParams) (*Page[Restaurant], error) {
	return list[Restaurant](ctx, s, "/restaurants", p)
}

// GetRestaurant fetches one restaurant by ID or slug.
func (s *Service) GetRestaurant(ctx context.Context, id string) (*Restaurant, error) {
	return get[Restaurant](ctx, s, "/restaurants/"+url.PathEscape(id))
}

// CreateRestaurant submits a new restaurant listing.
func (s *Service) CreateRestaurant(ctx context.Context, r *Restaurant) (*Restaurant, error) {
	return create(ctx, s, "/restaurants", r)
}

// UpdateRestaurant replaces a restaurant listing.
func (s *Service) UpdateRestaurant(ctx context.Context, r *Restaurant) (*Restaurant, error) {
	return update(ctx, s, "/restaurants/"+url.PathEscape(r.ID), r)
}

// DeleteRestaurant removes a restaurant listing.
func (s *Service) DeleteRestaurant(ctx context.Context, id string) error {
	_, err := s.c.Delete(ctx, "/restaurants/"+url.PathEscape(id))
	return err
}

// ListSynagogues fetches a page of synagogues.
func (s *Service) ListSynagogues(ctx context.Context, p ListParams) (*Page[Synagogue], error) {
	return list[Synagogue](ctx, s, "/synagogues", p)
}

// GetSynagogue fetches one synagogue by ID or slug.
func (s *Service) GetSynagogue(ctx context.Context, id string) (*Synagogue, error) {
	return get[Synagogue](ctx, s, "/synagogues/"+url.PathEscape(id))
}

// CreateSynagogue submits a new synagogue listing.
func (s *Service) CreateSynagogue(ctx context.Context, sy *Synagogue) (*Synagogue, error) {
	return create(ctx, s, "/synagogues", sy)
}

// UpdateSynagogue replaces a synagogue listing.
func (s *Service) UpdateSynagogue(ctx context.Context, sy *Synagogue) (*Synagogue, error) {
	return update(ctx, s, "/synagogues/"+url.PathEscape(sy.ID), sy)
}

// ListMikvahs fetches a page of mikvahs.
func (s *Service) ListMikvahs(ctx context.Context, p ListParams) (*Page[Mikvah], error) {
	return list[Mikvah](ctx, s, "/mikvahs", p)
}

// GetMikvah fetches one mikvah by ID or slug.
func (s *Service) GetMikvah(ctx context.Context, id string) (*Mikvah, error) {
	return get[Mikvah](ctx, s, "/mikvahs/"+url.PathEscape(id))
}

// UpdateMikvah replaces a mikvah listing.
func (s *Service) UpdateMikvah(ctx context.Context, m *Mikvah) (*Mikvah, error) {
	return update(ctx, s, "/mikvahs/"+url.PathEscape(m.ID), m)
}

// ListStores fetches a page of stores.
func (s *Service) ListStores(ctx context.Context, p ListParams) (*Page[Store], error) {
	return list[Store](ctx, s, "/stores", p)
}

// GetStore fetches one store by ID or slug.
func (s *Service) GetStore(ctx context.Context, id string) (*Store, error) {
	return get[Store](ctx, s, "/stores/"+url.PathEscape(id))
}

// CreateStore submits a new store listing.
func (s *Service) CreateStore(ctx context.Context, st *Store) (*Store, error) {
	return create(ctx, s, "/stores", st)
}

// UpdateStore replaces a store listing.
func (s *Service) UpdateStore(ctx context.Context, st *Store) (*Store, error) {
	return update(ctx, s, "/stores/"+url.PathEscape(st.ID), st)
}

// DeleteStore removes a store listing.
func (s *Service) DeleteStore(ctx context.Context, id string) error {
	_, err := s.c.Delete(ctx, "/stores/"+url.PathEscape(id))
	return err
}
