// internal/browser/pagestate.go
package browser

// pageStateJS collects the observable page snapshot in a single evaluation:
// title, URL, the visible text, form fields, and clickable elements. Selector
// synthesis prefers ids, then name attributes, then an nth-of-type path, so
// the model gets selectors it can pass back to click/type/select. The caps
// keep snapshots small enough to hand to the model after every action.
const pageStateJS = `(() => {
	const MAX_TEXT = 8000;
	const MAX_FIELDS = 50;
	const MAX_CLICKS = 80;

	const visible = (el) => {
		const r = el.getBoundingClientRect();
		if (r.width === 0 && r.height === 0) return false;
		const style = window.getComputedStyle(el);
		return style.visibility !== 'hidden' && style.display !== 'none';
	};

	const cssPath = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		if (el.name) return el.tagName.toLowerCase() + '[name="' + CSS.escape(el.name) + '"]';
		const parts = [];
		let node = el;
		while (node && node.nodeType === Node.ELEMENT_NODE && parts.length < 6) {
			let part = node.tagName.toLowerCase();
			const parent = node.parentElement;
			if (parent) {
				const same = Array.from(parent.children).filter(c => c.tagName === node.tagName);
				if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(node) + 1) + ')';
			}
			parts.unshift(part);
			if (node.id) { parts[0] = '#' + CSS.escape(node.id); break; }
			node = parent;
		}
		return parts.join(' > ');
	};

	const labelFor = (el) => {
		if (el.labels && el.labels.length > 0) return el.labels[0].innerText.trim();
		if (el.getAttribute('aria-label')) return el.getAttribute('aria-label');
		if (el.placeholder) return el.placeholder;
		return '';
	};

	const fields = [];
	for (const el of document.querySelectorAll('input, select, textarea')) {
		if (fields.length >= MAX_FIELDS) break;
		if (!visible(el)) continue;
		if (el.type === 'hidden') continue;
		fields.push({
			selector: cssPath(el),
			type: el.tagName.toLowerCase() === 'input' ? (el.type || 'text') : el.tagName.toLowerCase(),
			label: labelFor(el).slice(0, 120),
			value: el.type === 'password' ? '' : String(el.value || '').slice(0, 200),
		});
	}

	const clicks = [];
	for (const el of document.querySelectorAll('a[href], button, [role="button"], input[type="submit"]')) {
		if (clicks.length >= MAX_CLICKS) break;
		if (!visible(el)) continue;
		const text = (el.innerText || el.value || '').trim().replace(/\s+/g, ' ').slice(0, 120);
		if (!text && !el.href) continue;
		clicks.push({
			tag: el.tagName.toLowerCase(),
			selector: cssPath(el),
			text: text,
			href: el.href ? String(el.href).slice(0, 300) : '',
		});
	}

	let text = (document.body ? document.body.innerText : '').replace(/\n{3,}/g, '\n\n').trim();
	if (text.length > MAX_TEXT) text = text.slice(0, MAX_TEXT) + '\n…[truncated]';

	return JSON.stringify({
		url: window.location.href,
		title: document.title,
		visible_text: text,
		form_fields: fields,
		clickables: clicks,
	});
})()`
