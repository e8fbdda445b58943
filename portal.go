package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"offerbot/internal/offer"
)

// Page scripts. Visibility is offsetParent or a client rect, so fixed
// position elements count as visible.
const (
	// Leaf-most elements whose text starts with a DD/MM/YYYY date, each paired
	// with the closest 8-digit cell found walking up the ancestors.
	listOffersJS = `() => {
		const dated = /^\d{2}\/\d{2}\/\d{4}\s/;
		const id = /^\d{8}$/;
		const text = el => (el.innerText || '').trim();
		const visible = el => el.offsetParent !== null || el.getClientRects().length > 0;
		const out = [];
		for (const el of document.querySelectorAll('div, span, td')) {
			const t = text(el);
			if (!dated.test(t) || !visible(el)) continue;
			if ([...el.children].some(c => text(c) === t)) continue;
			let offerID = '';
			for (let p = el.parentElement; p && !offerID; p = p.parentElement) {
				const cell = [...p.querySelectorAll('div, span, td')].find(c => id.test(text(c)));
				if (cell) offerID = text(cell);
			}
			out.push({id: offerID, label: t});
		}
		return out;
	}`

	headingsVisibleJS = `(sel) => [...document.querySelectorAll(sel)]
		.some(h => (h.offsetParent !== null || h.getClientRects().length > 0) && /^\d{1,2}$/.test((h.innerText || '').trim()))`

	dayVisibleJS = `(sel, day) => [...document.querySelectorAll(sel)]
		.some(h => (h.offsetParent !== null || h.getClientRects().length > 0) && (h.innerText || '').trim() === day)`

	// The time row is the block whose text is only digits: the option texts
	// of its two selects, hours first.
	timeSelectsJS = `() => [...document.querySelectorAll('select')]
		.filter(s => s.offsetParent !== null && /^\d{4,}$/.test((s.parentElement && s.parentElement.innerText || '').replace(/\s+/g, '')))`

	timeSelectReadyJS = `(i) => (` + timeSelectsJS + `)().length > i`

	timeSelectJS = `(i) => (` + timeSelectsJS + `)()[i] || null`

	timeOptionsJS = `(i) => {
		const s = (` + timeSelectsJS + `)()[i];
		if (!s) return [];
		return [...s.options].map(o => ({value: (o.value || '').trim(), label: (o.text || '').trim(), disabled: o.disabled}));
	}`
)

// Portal drives the filtered offer list of a logged-in page.
type Portal struct {
	a       *Automation
	timeout time.Duration
}

func NewPortal(a *Automation) *Portal {
	return &Portal{a: a, timeout: a.config.elementTimeout()}
}

func (p *Portal) page(ctx context.Context) *rod.Page {
	return p.a.page.Context(ctx).Timeout(p.timeout)
}

func (p *Portal) ListVisibleOffers(ctx context.Context) ([]offer.Offer, error) {
	res, err := p.page(ctx).Eval(listOffersJS)
	if err != nil {
		return nil, uiError("list offers", err)
	}

	var raw []struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	if err := decodeValue(res.Value, &raw); err != nil {
		return nil, fmt.Errorf("decode offer list: %w", err)
	}

	offers := make([]offer.Offer, 0, len(raw))
	for _, r := range raw {
		offers = append(offers, offer.Offer{ID: r.ID, Label: r.Label})
	}
	return offers, nil
}

// openCalendar clicks the date input unless the day grid is already shown,
// so repeated checks do not toggle the picker closed.
func (p *Portal) openCalendar(ctx context.Context) error {
	sel := p.a.config.Selectors
	res, err := p.page(ctx).Eval(headingsVisibleJS, sel.DayHeading)
	if err != nil {
		return uiError("calendar", err)
	}
	if res.Value.Bool() {
		return nil
	}

	el, err := p.page(ctx).Element(sel.DateInput)
	if err != nil {
		return uiError("date input", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return uiError("date input", err)
	}
	return uiError("calendar", p.page(ctx).Wait(rod.Eval(headingsVisibleJS, sel.DayHeading)))
}

func (p *Portal) DayIsSelectable(ctx context.Context, day string) (bool, error) {
	if err := p.openCalendar(ctx); err != nil {
		return false, err
	}
	res, err := p.page(ctx).Eval(dayVisibleJS, p.a.config.Selectors.DayHeading, day)
	if err != nil {
		return false, uiError("day "+day, err)
	}
	return res.Value.Bool(), nil
}

func (p *Portal) SelectDay(ctx context.Context, day string) error {
	if err := p.openCalendar(ctx); err != nil {
		return err
	}
	el, err := p.page(ctx).ElementR(p.a.config.Selectors.DayHeading, textPattern(day))
	if err != nil {
		return uiError("day "+day, err)
	}
	return uiError("day "+day, el.Click(proto.InputMouseButtonLeft, 1))
}

func controlIndex(c offer.Control) int {
	if c == offer.Minute {
		return 1
	}
	return 0
}

func (p *Portal) Options(ctx context.Context, c offer.Control) ([]offer.Option, error) {
	i := controlIndex(c)
	if err := p.page(ctx).Wait(rod.Eval(timeSelectReadyJS, i)); err != nil {
		return nil, uiError(c.String()+" control", err)
	}

	res, err := p.page(ctx).Eval(timeOptionsJS, i)
	if err != nil {
		return nil, uiError(c.String()+" options", err)
	}
	var opts []offer.Option
	if err := decodeValue(res.Value, &opts); err != nil {
		return nil, fmt.Errorf("decode %s options: %w", c, err)
	}
	return opts, nil
}

// SelectOption picks o by its raw value attribute, as rendered.
func (p *Portal) SelectOption(ctx context.Context, c offer.Control, o offer.Option) error {
	el, err := p.page(ctx).ElementByJS(rod.Eval(timeSelectJS, controlIndex(c)))
	if err != nil {
		return uiError(c.String()+" control", err)
	}
	selector := fmt.Sprintf("option[value=%q]", o.Value)
	if err := el.Select([]string{selector}, true, rod.SelectorTypeCSSSector); err != nil {
		return uiError(fmt.Sprintf("%s option %s", c, o.Value), err)
	}
	p.a.log.Debugf("Selected %s %s", c, o.Value)
	return nil
}

// Commit confirms the offer and walks the portal's acknowledgement dialogs.
func (p *Portal) Commit(ctx context.Context) error {
	sel := p.a.config.Selectors
	steps := []struct {
		text  string
		pause time.Duration
	}{
		{sel.AcceptText, 0},
		{sel.ConfirmText, 2 * time.Second},
		{sel.FinalText, 5 * time.Second},
		{sel.FinalText, 0},
	}

	for _, s := range steps {
		if err := p.a.clickText(ctx, s.text); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if s.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pause):
			}
		}
	}
	return nil
}

// Refresh re-applies the origin filter.
func (p *Portal) Refresh(ctx context.Context) error {
	if err := p.a.clickText(ctx, p.a.config.Selectors.FilterText); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	p.a.waitSettled(ctx)
	return nil
}

// Reload reloads the page and walks back to the filtered offer list.
func (p *Portal) Reload(ctx context.Context) error {
	p.a.log.Warnf("Reloading the portal")
	pg := p.a.page.Context(ctx).Timeout(time.Duration(p.a.config.PageLoadTimeout) * time.Second)
	if err := pg.Reload(); err != nil {
		return uiError("reload", err)
	}
	if err := pg.WaitLoad(); err != nil {
		return uiError("reload", err)
	}
	return p.a.openOffers(ctx)
}

// decodeValue copies a value returned by page JS into out.
func decodeValue(v json.Marshaler, out any) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
