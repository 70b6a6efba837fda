package overlay

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/glowpath/glowpath/internal/protocol"
)

// scanLimit caps the registry size so the upstream prompt stays small.
const scanLimit = 40

// Scan walks the page's interactive elements in one JS round trip and
// builds the selector registry the relay feeds to the model. Selectors
// prefer ids and fall back to nth-of-type paths.
func Scan(page *rod.Page) ([]protocol.SelectorEntry, error) {
	res, err := page.Eval(fmt.Sprintf(`() => {
		const limit = %d;

		const pathFor = (el) => {
			if (el.id) return '#' + CSS.escape(el.id);
			const parts = [];
			let node = el;
			while (node && node.nodeType === 1 && node !== document.body) {
				const tag = node.tagName.toLowerCase();
				let nth = 1;
				let sib = node.previousElementSibling;
				while (sib) {
					if (sib.tagName === node.tagName) nth++;
					sib = sib.previousElementSibling;
				}
				parts.unshift(tag + ':nth-of-type(' + nth + ')');
				node = node.parentElement;
			}
			return parts.length ? 'body > ' + parts.join(' > ') : 'body';
		};

		const labelFor = (el) => {
			let label = (el.getAttribute('aria-label') ||
				el.getAttribute('title') ||
				el.getAttribute('placeholder') ||
				el.getAttribute('alt') || '').trim();
			if (!label) {
				label = (el.textContent || '').replace(/\s+/g, ' ').trim();
			}
			return label.substring(0, 60);
		};

		const categoryFor = (el) => {
			const tag = el.tagName.toLowerCase();
			if (tag === 'input' || tag === 'select' || tag === 'textarea') return 'input';
			if (tag === 'a') return 'link';
			if (tag === 'button' || el.getAttribute('role') === 'button') return 'action';
			if (el.closest('nav, header, footer')) return 'navigation';
			return 'content';
		};

		const seen = new Set();
		const out = [];
		const nodes = document.querySelectorAll(
			'a, button, input, select, textarea, [role="button"], [role="link"], [onclick]');
		for (const el of nodes) {
			if (out.length >= limit) break;
			const rect = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			if (rect.width === 0 || rect.height === 0) continue;
			if (style.display === 'none' || style.visibility === 'hidden') continue;

			const selector = pathFor(el);
			if (seen.has(selector)) continue;
			seen.add(selector);

			const label = labelFor(el);
			if (!label) continue;
			out.push({selector: selector, label: label, category: categoryFor(el)});
		}
		return out;
	}`, scanLimit))
	if err != nil {
		return nil, fmt.Errorf("scan page: %w", err)
	}

	var entries []protocol.SelectorEntry
	if err := json.Unmarshal([]byte(res.Value.String()), &entries); err != nil {
		return nil, fmt.Errorf("parse scan result: %w", err)
	}
	return entries, nil
}
