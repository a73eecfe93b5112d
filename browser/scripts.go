package browser

// Общие функции, которые подставляются в каждый вызов. Ссылки на элементы
// хранятся в атрибуте data-wlref, счётчик живёт в window документа.
const prelude = `
const REF = 'data-wlref';
function norm(s) { return (s || '').replace(/\s+/g, ' ').trim(); }
function byRef(ref) {
	if (!ref) return document.body;
	return document.querySelector('[' + REF + '="' + CSS.escape(ref) + '"]');
}
function tag(el) {
	let ref = el.getAttribute(REF);
	if (!ref) {
		window.__wlSeq = (window.__wlSeq || 0) + 1;
		ref = String(window.__wlSeq);
		el.setAttribute(REF, ref);
	}
	return ref;
}
function visible(el) {
	if (!el || !el.isConnected) return false;
	const st = window.getComputedStyle(el);
	if (st.display === 'none' || st.visibility === 'hidden' || st.opacity === '0') return false;
	const r = el.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}
function describe(el) {
	const attrs = {};
	for (const a of el.attributes) {
		if (a.name !== REF) attrs[a.name] = a.value;
	}
	if (typeof el.value === 'string') attrs.value = el.value;
	return {
		ref: tag(el),
		tag: el.tagName.toLowerCase(),
		id: el.id || '',
		text: norm(el.innerText || el.textContent).slice(0, 2000),
		attrs: attrs,
		visible: visible(el),
	};
}
`

const findJS = `function(a) {
	const root = a.scope ? byRef(a.scope) : document;
	if (!root) return {stale: true, elements: []};
	return {stale: false, elements: Array.from(root.querySelectorAll(a.selector)).map(describe)};
}`

const describeJS = `function(a) {
	const el = byRef(a.ref);
	if (!el) return {stale: true};
	return {stale: false, element: describe(el)};
}`

const outerHTMLJS = `function(a) {
	const el = byRef(a.ref);
	if (!el) return {stale: true, value: ''};
	return {stale: false, value: el.outerHTML};
}`

const scrollJS = `function(a) {
	const el = byRef(a.ref);
	if (!el) return {stale: true};
	el.scrollIntoView({block: 'center', inline: 'center'});
	return {stale: false};
}`

const pointerJS = `function() { return typeof window.PointerEvent === 'function'; }`

// Все события всплывают, отменяемы и несут нажатую основную кнопку.
const dispatchJS = `function(a) {
	const el = byRef(a.ref);
	if (!el) return {stale: true};
	const init = {bubbles: true, cancelable: true, composed: true, view: window};
	let ev;
	if (a.kind === 'keyboard') {
		ev = new KeyboardEvent(a.type, Object.assign(init, {key: a.key, code: a.key}));
	} else {
		const r = el.getBoundingClientRect();
		Object.assign(init, {
			clientX: r.left + r.width / 2,
			clientY: r.top + r.height / 2,
			button: 0,
			buttons: 1,
		});
		if (a.kind === 'pointer') {
			ev = new PointerEvent(a.type, Object.assign(init, {pointerId: 1, pointerType: 'mouse', isPrimary: true}));
		} else {
			ev = new MouseEvent(a.type, init);
		}
	}
	el.dispatchEvent(ev);
	return {stale: false};
}`

// Значение ставится через нативный сеттер, иначе React-подобные формы его не видят.
const setValueJS = `function(a) {
	const el = byRef(a.ref);
	if (!el) return {stale: true};
	el.focus();
	let proto = null;
	if (el instanceof HTMLTextAreaElement) proto = HTMLTextAreaElement.prototype;
	else if (el instanceof HTMLInputElement) proto = HTMLInputElement.prototype;
	const desc = proto && Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) desc.set.call(el, a.value); else el.value = a.value;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return {stale: false};
}`

const valueJS = `function(a) {
	const el = byRef(a.ref);
	if (!el) return {stale: true, value: ''};
	return {stale: false, value: typeof el.value === 'string' ? el.value : ''};
}`

// Свои пометки data-wlref не считаются изменением документа.
const observeJS = `function(a) {
	const root = a.ref ? byRef(a.ref) : document.documentElement;
	if (!root) return {stale: true};
	window.__wlObservers = window.__wlObservers || {};
	const mo = new MutationObserver(function(records) {
		if (records.every(function(r) { return r.type === 'attributes' && r.attributeName === REF; })) return;
		window[a.binding](a.id);
	});
	mo.observe(root, {subtree: true, childList: true, attributes: true, characterData: true});
	window.__wlObservers[a.id] = mo;
	return {stale: false};
}`

const unobserveJS = `function(a) {
	const all = window.__wlObservers || {};
	if (all[a.id]) {
		all[a.id].disconnect();
		delete all[a.id];
	}
	return {stale: false};
}`

const getItemJS = `function(a) {
	const v = window.sessionStorage.getItem(a.key);
	return {found: v !== null, value: v === null ? '' : v};
}`

const setItemJS = `function(a) {
	window.sessionStorage.setItem(a.key, a.value);
	return {stale: false};
}`

const removeItemJS = `function(a) {
	window.sessionStorage.removeItem(a.key);
	return {stale: false};
}`
